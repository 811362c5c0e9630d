package fixed_test

import (
	"math/big"
	"testing"

	"CreditLedger/internal/fixed"
)

func TestMulDivDown_Truncates(t *testing.T) {
	got := fixed.MulDivDown(big.NewInt(7), big.NewInt(3), big.NewInt(2))
	if got.Int64() != 10 {
		t.Errorf("got %d, want 10", got.Int64())
	}
}

func TestMulDivUp_RoundsUp(t *testing.T) {
	got := fixed.MulDivUp(big.NewInt(7), big.NewInt(3), big.NewInt(2))
	if got.Int64() != 11 {
		t.Errorf("got %d, want 11", got.Int64())
	}
}

func TestMulDivUp_ExactNoRounding(t *testing.T) {
	got := fixed.MulDivUp(big.NewInt(6), big.NewInt(3), big.NewInt(2))
	if got.Int64() != 9 {
		t.Errorf("got %d, want 9", got.Int64())
	}
}

func TestWadMul(t *testing.T) {
	half := new(big.Int).Quo(fixed.Wad, big.NewInt(2))
	got := fixed.WadMul(big.NewInt(100), half)
	if got.Int64() != 50 {
		t.Errorf("100 * 0.5 = %d, want 50", got.Int64())
	}
}

func TestWadDiv(t *testing.T) {
	half := new(big.Int).Quo(fixed.Wad, big.NewInt(2))
	got := fixed.WadDiv(big.NewInt(50), half)
	if got.Int64() != 100 {
		t.Errorf("50 / 0.5 = %d, want 100", got.Int64())
	}
}

func TestMulDivDown_ZeroDenominatorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on zero denominator")
		}
	}()
	fixed.MulDivDown(big.NewInt(1), big.NewInt(1), big.NewInt(0))
}

func TestClone_NilIsZero(t *testing.T) {
	got := fixed.Clone(nil)
	if got.Sign() != 0 {
		t.Errorf("Clone(nil) = %s, want 0", got)
	}
}

func TestClone_Independent(t *testing.T) {
	orig := big.NewInt(42)
	c := fixed.Clone(orig)
	c.SetInt64(7)
	if orig.Int64() != 42 {
		t.Error("Clone must not alias the original")
	}
}

func TestClampNonNegative(t *testing.T) {
	if got := fixed.ClampNonNegative(big.NewInt(-5)); got.Sign() != 0 {
		t.Errorf("clamp(-5) = %s, want 0", got)
	}
	if got := fixed.ClampNonNegative(big.NewInt(5)); got.Int64() != 5 {
		t.Errorf("clamp(5) = %s, want 5", got)
	}
}
