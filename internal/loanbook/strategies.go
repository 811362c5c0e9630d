package loanbook

import (
	"math/big"

	"CreditLedger/internal/fixed"
	"CreditLedger/internal/token"
)

// The book calls through these capability interfaces at its extension
// points, so term variants (wrapped collateral, alternative accrual,
// automatic forgiveness) are composed rather than subclassed.

// AccrualStrategy computes the interest component owed on a principal
// after elapsed ticks, before devaluation rescaling.
type AccrualStrategy interface {
	Interest(p *Params, principal *big.Int, elapsed int64) *big.Int
}

// LinearAccrual is the standard simple-interest accrual:
// principal * rate * elapsed / year, plus the one-off opening fee.
type LinearAccrual struct{}

func (LinearAccrual) Interest(p *Params, principal *big.Int, elapsed int64) *big.Int {
	interest := new(big.Int)
	if fixed.IsPositive(p.InterestRateWad) && elapsed > 0 {
		interest = fixed.MulDivDown(principal, p.InterestRateWad, fixed.Wad)
		interest = fixed.MulDivDown(interest, big.NewInt(elapsed), big.NewInt(fixed.SecondsPerYear))
	}
	if fixed.IsPositive(p.OpeningFeeWad) {
		interest.Add(interest, fixed.MulDivDown(principal, p.OpeningFeeWad, fixed.Wad))
	}
	return interest
}

// CollateralStrategy moves collateral between external holders and the
// book escrow. Wrapped-collateral variants stake or unwrap here.
type CollateralStrategy interface {
	PullFrom(holder token.Address, amount *big.Int) error
	PushTo(holder token.Address, amount *big.Int) error
	// CanPull reports whether PullFrom would succeed, so the book can
	// validate before mutating any state.
	CanPull(holder token.Address, amount *big.Int) bool
}

// DirectCollateral holds plain collateral tokens in the book escrow.
type DirectCollateral struct {
	Token  *token.Token
	Escrow token.Address
}

func (c DirectCollateral) PullFrom(holder token.Address, amount *big.Int) error {
	if fixed.IsZero(amount) {
		return nil
	}
	return c.Token.TransferFrom(c.Escrow, holder, c.Escrow, amount)
}

func (c DirectCollateral) PushTo(holder token.Address, amount *big.Int) error {
	if fixed.IsZero(amount) {
		return nil
	}
	return c.Token.Transfer(c.Escrow, holder, amount)
}

func (c DirectCollateral) CanPull(holder token.Address, amount *big.Int) bool {
	if fixed.IsZero(amount) {
		return true
	}
	return c.Token.BalanceOf(holder).Cmp(amount) >= 0 &&
		c.Token.Allowance(holder, c.Escrow).Cmp(amount) >= 0
}

// ForgivePolicy decides who may write a loan off without moving
// collateral.
type ForgivePolicy interface {
	CanForgive(hasGovernorRole, termDeprecated bool) bool
}

// GovernedForgive restricts forgiveness to governance.
type GovernedForgive struct{}

func (GovernedForgive) CanForgive(hasGovernorRole, _ bool) bool { return hasGovernorRole }

// AutoForgive additionally lets anyone write loans off once the term has
// been wound down, for books whose collateral can become unmovable.
type AutoForgive struct{}

func (AutoForgive) CanForgive(hasGovernorRole, termDeprecated bool) bool {
	return hasGovernorRole || termDeprecated
}
