package loanbook

import (
	"errors"
	"math/big"

	"CreditLedger/internal/fixed"
)

var (
	errNoTerm             = errors.New("loanbook: term identifier required")
	errInterestRate       = errors.New("loanbook: interest rate must be below 100%")
	errMaxDebtPerColl     = errors.New("loanbook: max debt per collateral must be positive")
	errPartialRepayParams = errors.New("loanbook: periodic repayment parameters inconsistent")
	errGaugeTolerance     = errors.New("loanbook: gauge tolerance must be at least 100%")
)

// Params fixes the governance-chosen terms of one loan book. Immutable
// after validation; a changed term is a new book.
type Params struct {
	// Term names this book toward the solvency ledger and gauge oracle.
	Term string

	// InterestRateWad is the annual interest rate (WAD fraction, < 1.0).
	InterestRateWad *big.Int

	// MaxDebtPerCollateralWad caps principal per collateral unit.
	MaxDebtPerCollateralWad *big.Int

	// OpeningFeeWad is charged on principal, realized as interest on repay.
	OpeningFeeWad *big.Int

	// CallFeeWad is the fraction of call debt the caller escrows.
	CallFeeWad *big.Int

	// CallPeriod is the grace window (ticks) after a call during which the
	// borrower may still repay, netting the escrowed call fee.
	CallPeriod int64

	// Periodic repayment terms. Either both set or both zero.
	MaxDelayBetweenPartialRepay int64
	MinPartialRepayPercentWad   *big.Int

	// HardCap bounds this book's issuance regardless of gauge weight.
	HardCap *big.Int

	// LtvBufferWad widens the callable threshold before a called loan
	// counts as being in the danger zone (e.g. 1.1 = 10% headroom).
	LtvBufferWad *big.Int

	// GaugeToleranceWad relaxes the gauge-proportional ceiling so a lone
	// active book is not deadlocked (default 1.2 = 120%).
	GaugeToleranceWad *big.Int
}

// Validate rejects inconsistent parameter combinations once, at
// construction. Runtime operations can then trust the params.
func (p *Params) Validate() error {
	if p.Term == "" {
		return errNoTerm
	}
	if p.InterestRateWad != nil && p.InterestRateWad.Cmp(fixed.Wad) >= 0 {
		return errInterestRate
	}
	if !fixed.IsPositive(p.MaxDebtPerCollateralWad) {
		return errMaxDebtPerColl
	}
	hasDelay := p.MaxDelayBetweenPartialRepay > 0
	hasPercent := fixed.IsPositive(p.MinPartialRepayPercentWad)
	if hasDelay != hasPercent {
		return errPartialRepayParams
	}
	if hasPercent && p.MinPartialRepayPercentWad.Cmp(fixed.Wad) > 0 {
		return errPartialRepayParams
	}
	if p.GaugeToleranceWad != nil && p.GaugeToleranceWad.Cmp(fixed.Wad) < 0 {
		return errGaugeTolerance
	}
	return nil
}

func (p *Params) gaugeTolerance() *big.Int {
	if fixed.IsPositive(p.GaugeToleranceWad) {
		return fixed.Clone(p.GaugeToleranceWad)
	}
	// 120% default keeps growth possible when few books are active.
	return fixed.MulDivDown(fixed.Wad, big.NewInt(12), big.NewInt(10))
}

func (p *Params) ltvBuffer() *big.Int {
	if fixed.IsPositive(p.LtvBufferWad) {
		return fixed.Clone(p.LtvBufferWad)
	}
	return fixed.Clone(fixed.Wad)
}
