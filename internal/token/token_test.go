package token_test

import (
	"errors"
	"math/big"
	"testing"

	"CreditLedger/internal/token"
)

func TestToken_MintAndTransfer(t *testing.T) {
	tok := token.New("CREDIT")
	if err := tok.Mint("alice", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tok.Transfer("alice", "bob", big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := tok.BalanceOf("alice").Int64(); got != 60 {
		t.Errorf("alice balance: got %d, want 60", got)
	}
	if got := tok.BalanceOf("bob").Int64(); got != 40 {
		t.Errorf("bob balance: got %d, want 40", got)
	}
	if got := tok.TotalSupply().Int64(); got != 100 {
		t.Errorf("total supply: got %d, want 100", got)
	}
}

func TestToken_TransferInsufficient(t *testing.T) {
	tok := token.New("CREDIT")
	tok.Mint("alice", big.NewInt(10))
	err := tok.Transfer("alice", "bob", big.NewInt(11))
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestToken_TransferFromConsumesAllowance(t *testing.T) {
	tok := token.New("CREDIT")
	tok.Mint("alice", big.NewInt(100))
	tok.Approve("alice", "book", big.NewInt(50))

	if err := tok.TransferFrom("book", "alice", "vault", big.NewInt(30)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if got := tok.Allowance("alice", "book").Int64(); got != 20 {
		t.Errorf("remaining allowance: got %d, want 20", got)
	}

	err := tok.TransferFrom("book", "alice", "vault", big.NewInt(30))
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Errorf("got %v, want ErrInsufficientAllowance", err)
	}
}

func TestToken_BurnReducesSupply(t *testing.T) {
	tok := token.New("CREDIT")
	tok.Mint("alice", big.NewInt(100))
	if err := tok.Burn("alice", big.NewInt(30)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := tok.TotalSupply().Int64(); got != 70 {
		t.Errorf("supply after burn: got %d, want 70", got)
	}
}

func TestMinter_BufferDepletesAndRefills(t *testing.T) {
	tok := token.New("CREDIT")
	m := token.NewRateLimitedMinter(tok, big.NewInt(100), big.NewInt(10))

	if err := m.Mint(0, "alice", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := m.Buffer(0).Int64(); got != 0 {
		t.Errorf("buffer after full mint: got %d, want 0", got)
	}

	if err := m.Mint(0, "alice", big.NewInt(1)); !errors.Is(err, token.ErrBufferExhausted) {
		t.Errorf("got %v, want ErrBufferExhausted", err)
	}

	// 5 ticks at 10/tick refills 50.
	if got := m.Buffer(5).Int64(); got != 50 {
		t.Errorf("buffer after 5 ticks: got %d, want 50", got)
	}

	// Refill never exceeds capacity.
	if got := m.Buffer(1000).Int64(); got != 100 {
		t.Errorf("buffer after long idle: got %d, want 100", got)
	}
}

func TestMinter_BurnReplenishes(t *testing.T) {
	tok := token.New("CREDIT")
	m := token.NewRateLimitedMinter(tok, big.NewInt(100), big.NewInt(0))

	m.Mint(0, "alice", big.NewInt(80))
	if err := m.Burn(0, "alice", big.NewInt(30)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := m.Buffer(0).Int64(); got != 50 {
		t.Errorf("buffer after burn: got %d, want 50", got)
	}
}
