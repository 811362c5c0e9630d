package token

import (
	"errors"
	"fmt"
	"math/big"

	"CreditLedger/internal/fixed"
)

// Address identifies an account held in a token ledger. Callers arrive
// already authenticated; the core never inspects credentials.
type Address string

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
)

// Token is an in-memory fungible token ledger with standard
// transfer/transferFrom/approve semantics. Not safe for concurrent use:
// it is only ever touched from the sequential core.
type Token struct {
	symbol      string
	balances    map[Address]*big.Int
	allowances  map[Address]map[Address]*big.Int
	totalSupply *big.Int
}

func New(symbol string) *Token {
	return &Token{
		symbol:      symbol,
		balances:    make(map[Address]*big.Int),
		allowances:  make(map[Address]map[Address]*big.Int),
		totalSupply: new(big.Int),
	}
}

func (t *Token) Symbol() string { return t.symbol }

// BalanceOf returns the current balance of addr.
func (t *Token) BalanceOf(addr Address) *big.Int {
	return fixed.Clone(t.balances[addr])
}

// TotalSupply returns the total minted supply.
func (t *Token) TotalSupply() *big.Int { return fixed.Clone(t.totalSupply) }

// Transfer moves amount from `from` to `to`.
func (t *Token) Transfer(from, to Address, amount *big.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrInvalidAmount
	}
	bal := t.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, need %s",
			ErrInsufficientBalance, from, t.balanceString(from), t.symbol, amount)
	}
	t.credit(from, new(big.Int).Neg(amount))
	t.credit(to, amount)
	return nil
}

// Approve lets spender move up to amount on behalf of owner.
func (t *Token) Approve(owner, spender Address, amount *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[Address]*big.Int)
	}
	t.allowances[owner][spender] = fixed.Clone(amount)
}

// Allowance returns the remaining allowance from owner to spender.
func (t *Token) Allowance(owner, spender Address) *big.Int {
	return fixed.Clone(t.allowances[owner][spender])
}

// TransferFrom moves amount from owner to `to`, consuming spender's allowance.
func (t *Token) TransferFrom(spender, owner, to Address, amount *big.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrInvalidAmount
	}
	allowed := t.allowances[owner][spender]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowed %s by %s, need %s",
			ErrInsufficientAllowance, spender, fixed.Clone(allowed), owner, amount)
	}
	if err := t.Transfer(owner, to, amount); err != nil {
		return err
	}
	t.allowances[owner][spender] = new(big.Int).Sub(allowed, amount)
	return nil
}

// Mint creates amount new units in favour of `to`.
func (t *Token) Mint(to Address, amount *big.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrInvalidAmount
	}
	t.credit(to, amount)
	t.totalSupply = new(big.Int).Add(t.totalSupply, amount)
	return nil
}

// Burn destroys amount units held by `from`.
func (t *Token) Burn(from Address, amount *big.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrInvalidAmount
	}
	bal := t.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s from %s holding %s",
			ErrInsufficientBalance, amount, from, t.balanceString(from))
	}
	t.credit(from, new(big.Int).Neg(amount))
	t.totalSupply = new(big.Int).Sub(t.totalSupply, amount)
	return nil
}

func (t *Token) credit(addr Address, delta *big.Int) {
	cur := t.balances[addr]
	if cur == nil {
		cur = new(big.Int)
	}
	t.balances[addr] = new(big.Int).Add(cur, delta)
}

func (t *Token) balanceString(addr Address) *big.Int {
	return fixed.Clone(t.balances[addr])
}
