// Package solvency implements the system-wide profit and loss ledger:
// first-loss surplus buffers, the debt devaluation multiplier, the profit
// split, and the lazy reward indices for gauge stakers. Every realized
// gain or loss anywhere in the system flows through NotifyPnL.
package solvency

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"CreditLedger/internal/fixed"
	"CreditLedger/internal/gauge"
	"CreditLedger/internal/token"
)

var (
	ErrInvalidAmount      = errors.New("solvency: amount must be positive")
	ErrInsufficientBuffer = errors.New("solvency: surplus buffer too small")
	ErrDebtCeiling        = errors.New("solvency: global debt ceiling reached")
	ErrBadSplit           = errors.New("solvency: profit split exceeds 100%")
)

// Config fixes the governance-set parameters of the ledger.
type Config struct {
	// GlobalDebtCeiling caps TotalIssuance. Nil or zero disables the cap.
	GlobalDebtCeiling *big.Int

	// Profit split, WAD fractions. Must sum to at most 1.0; the residual
	// is left in the ledger account for the external rebasing distributor.
	SurplusSplitWad *big.Int
	GaugeSplitWad   *big.Int
	OtherSplitWad   *big.Int
	OtherRecipient  token.Address

	// MinBorrowReal is the minimum loan principal in real terms; the
	// nominal floor grows as the multiplier is marked down.
	MinBorrowReal *big.Int
}

// Ledger is the solvency accounting core. It owns one account on the debt
// token holding the surplus buffers and undistributed profit. Not safe for
// concurrent use; driven exclusively by the sequential core.
type Ledger struct {
	cfg     Config
	log     zerolog.Logger
	debt    *token.Token
	gauges  *gauge.Oracle
	account token.Address

	surplusBuffer *big.Int
	termSurplus   map[string]*big.Int

	// multiplier starts at 1.0 WAD and only ever decreases.
	multiplier *big.Int

	profitIndex map[string]*big.Int
	userIndex   map[token.Address]map[string]*big.Int

	totalIssuance *big.Int
}

func NewLedger(cfg Config, debt *token.Token, gauges *gauge.Oracle, account token.Address, log zerolog.Logger) (*Ledger, error) {
	splitSum := new(big.Int).Add(fixed.Clone(cfg.SurplusSplitWad), fixed.Clone(cfg.GaugeSplitWad))
	splitSum.Add(splitSum, fixed.Clone(cfg.OtherSplitWad))
	if splitSum.Cmp(fixed.Wad) > 0 {
		return nil, ErrBadSplit
	}
	if fixed.IsPositive(cfg.OtherSplitWad) && cfg.OtherRecipient == "" {
		return nil, fmt.Errorf("solvency: other-split recipient not configured")
	}
	return &Ledger{
		cfg:           cfg,
		log:           log,
		debt:          debt,
		gauges:        gauges,
		account:       account,
		surplusBuffer: new(big.Int),
		termSurplus:   make(map[string]*big.Int),
		multiplier:    fixed.Clone(fixed.Wad),
		profitIndex:   make(map[string]*big.Int),
		userIndex:     make(map[token.Address]map[string]*big.Int),
		totalIssuance: new(big.Int),
	}, nil
}

// Account returns the ledger's own debt-token account.
func (l *Ledger) Account() token.Address { return l.account }

// DevaluationMultiplier returns the current markdown multiplier (WAD).
func (l *Ledger) DevaluationMultiplier() *big.Int { return fixed.Clone(l.multiplier) }

// SurplusBuffer returns the global first-loss buffer.
func (l *Ledger) SurplusBuffer() *big.Int { return fixed.Clone(l.surplusBuffer) }

// TermSurplusBuffer returns the first-loss buffer pledged to one term.
func (l *Ledger) TermSurplusBuffer(term string) *big.Int {
	return fixed.Clone(l.termSurplus[term])
}

// TotalIssuance returns the outstanding principal across all loan books.
func (l *Ledger) TotalIssuance() *big.Int { return fixed.Clone(l.totalIssuance) }

// MinBorrow returns the nominal minimum principal: the real-terms floor
// scaled up by the markdown so it stays constant in real value.
func (l *Ledger) MinBorrow() *big.Int {
	if fixed.IsZero(l.cfg.MinBorrowReal) {
		return new(big.Int)
	}
	if l.multiplier.Sign() == 0 {
		// Fully marked down: nothing can be borrowed anyway.
		return fixed.Clone(l.cfg.MinBorrowReal)
	}
	return fixed.MulDivUp(l.cfg.MinBorrowReal, fixed.Wad, l.multiplier)
}

// NotifyPnL records a realized gain (amount > 0) or loss (amount < 0)
// attributed to a term, and applies the issuance delta. The loss waterfall
// drains the term buffer, then the global buffer, then marks the
// devaluation multiplier down by the uncovered remainder over total debt
// supply.
func (l *Ledger) NotifyPnL(term string, amount, issuanceDelta *big.Int) error {
	if issuanceDelta != nil && issuanceDelta.Sign() != 0 {
		next := new(big.Int).Add(l.totalIssuance, issuanceDelta)
		if next.Sign() < 0 {
			panic(fmt.Sprintf("FATAL: solvency: issuance would go negative (%s %+s)", l.totalIssuance, issuanceDelta))
		}
		if issuanceDelta.Sign() > 0 && fixed.IsPositive(l.cfg.GlobalDebtCeiling) && next.Cmp(l.cfg.GlobalDebtCeiling) > 0 {
			return ErrDebtCeiling
		}
		l.totalIssuance = next
	}

	switch {
	case amount == nil || amount.Sign() == 0:
		return nil
	case amount.Sign() < 0:
		l.absorbLoss(term, new(big.Int).Neg(amount))
		return nil
	default:
		l.distributeProfit(term, amount)
		return nil
	}
}

func (l *Ledger) absorbLoss(term string, loss *big.Int) {
	remaining := fixed.Clone(loss)

	// A term buffer is consumed whole: whatever the loss does not eat is
	// donated to the global buffer, so a slashed term never keeps local
	// first-loss capital around.
	if ts := l.termSurplus[term]; fixed.IsPositive(ts) {
		covered := fixed.Min(ts, remaining)
		remaining.Sub(remaining, covered)
		leftover := new(big.Int).Sub(ts, covered)
		delete(l.termSurplus, term)
		l.surplusBuffer = new(big.Int).Add(l.surplusBuffer, leftover)
	}

	if remaining.Sign() > 0 && l.surplusBuffer.Sign() > 0 {
		covered := fixed.Min(l.surplusBuffer, remaining)
		remaining.Sub(remaining, covered)
		l.surplusBuffer = new(big.Int).Sub(l.surplusBuffer, covered)
	}

	// Buffer capital that pays a loss is written off: burn it from the
	// ledger account so the outstanding supply shrinks with it. Otherwise
	// a later markdown would divide by an inflated supply.
	if covered := new(big.Int).Sub(loss, remaining); covered.Sign() > 0 {
		if err := l.debt.Burn(l.account, covered); err != nil {
			panic(fmt.Sprintf("FATAL: solvency: surplus write-off burn failed: %v", err))
		}
	}

	if remaining.Sign() == 0 {
		l.log.Info().Str("term", term).Str("loss", loss.String()).Msg("loss absorbed by surplus buffers")
		return
	}

	// Buffers exhausted: mark every outstanding debt down.
	supply := l.debt.TotalSupply()
	if supply.Sign() == 0 || remaining.Cmp(supply) >= 0 {
		// Degenerate: loss at or beyond the entire supply. Floor at zero
		// rather than underflow.
		l.multiplier = new(big.Int)
	} else {
		factor := new(big.Int).Sub(supply, remaining)
		l.multiplier = fixed.MulDivDown(l.multiplier, factor, supply)
	}
	l.log.Warn().
		Str("term", term).
		Str("loss", loss.String()).
		Str("uncovered", remaining.String()).
		Str("multiplier", l.multiplier.String()).
		Msg("loss exceeded surplus buffers, debt marked down")
}

func (l *Ledger) distributeProfit(term string, profit *big.Int) {
	surplusShare := fixed.WadMul(profit, fixed.Clone(l.cfg.SurplusSplitWad))
	gaugeShare := fixed.WadMul(profit, fixed.Clone(l.cfg.GaugeSplitWad))
	otherShare := fixed.WadMul(profit, fixed.Clone(l.cfg.OtherSplitWad))

	l.surplusBuffer = new(big.Int).Add(l.surplusBuffer, surplusShare)

	if gaugeShare.Sign() > 0 {
		totalStake := l.gauges.TotalStake(term)
		if totalStake.Sign() > 0 {
			idx := l.profitIndex[term]
			if idx == nil {
				idx = new(big.Int)
			}
			l.profitIndex[term] = new(big.Int).Add(idx, fixed.MulDivDown(gaugeShare, fixed.Wad, totalStake))
		} else {
			// Nobody backing the term: the stakers' cut falls through to
			// the global buffer instead of being stranded.
			l.surplusBuffer = new(big.Int).Add(l.surplusBuffer, gaugeShare)
		}
	}

	if otherShare.Sign() > 0 {
		if err := l.debt.Transfer(l.account, l.cfg.OtherRecipient, otherShare); err != nil {
			panic(fmt.Sprintf("FATAL: solvency: profit share transfer failed: %v", err))
		}
	}

	// The residual stays in the ledger account for the external rebasing
	// distributor to pull.
	l.log.Debug().
		Str("term", term).
		Str("profit", profit.String()).
		Str("to_surplus", surplusShare.String()).
		Str("to_gauge", gaugeShare.String()).
		Msg("profit distributed")
}

// PendingRewards returns the stakers' unclaimed share of a term's profit.
func (l *Ledger) PendingRewards(user token.Address, term string) *big.Int {
	idx := fixed.Clone(l.profitIndex[term])
	last := fixed.Clone(l.userIndex[user][term])
	delta := new(big.Int).Sub(idx, last)
	if delta.Sign() <= 0 {
		return new(big.Int)
	}
	return fixed.WadMul(l.gauges.StakerWeight(term, user), delta)
}

// ClaimGaugeRewards realizes the user's index delta since their last claim
// and pays it out from the ledger account. Returns the amount paid.
func (l *Ledger) ClaimGaugeRewards(user token.Address, term string) (*big.Int, error) {
	owed := l.PendingRewards(user, term)
	if m := l.userIndex[user]; m == nil {
		l.userIndex[user] = make(map[string]*big.Int)
	}
	l.userIndex[user][term] = fixed.Clone(l.profitIndex[term])
	if owed.Sign() == 0 {
		return owed, nil
	}
	if err := l.debt.Transfer(l.account, user, owed); err != nil {
		return nil, fmt.Errorf("solvency: reward payout: %w", err)
	}
	return owed, nil
}

// DonateToSurplusBuffer pulls amount from the donor into the global buffer.
func (l *Ledger) DonateToSurplusBuffer(from token.Address, amount *big.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if err := l.debt.Transfer(from, l.account, amount); err != nil {
		return err
	}
	l.surplusBuffer = new(big.Int).Add(l.surplusBuffer, amount)
	return nil
}

// DonateToTermSurplusBuffer pledges first-loss capital to a single term.
func (l *Ledger) DonateToTermSurplusBuffer(from token.Address, term string, amount *big.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if err := l.debt.Transfer(from, l.account, amount); err != nil {
		return err
	}
	cur := l.termSurplus[term]
	if cur == nil {
		cur = new(big.Int)
	}
	l.termSurplus[term] = new(big.Int).Add(cur, amount)
	return nil
}

// WithdrawFromSurplusBuffer pays amount of the global buffer out to `to`.
// Authorization is enforced by the caller (governance role check).
func (l *Ledger) WithdrawFromSurplusBuffer(to token.Address, amount *big.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if l.surplusBuffer.Cmp(amount) < 0 {
		return ErrInsufficientBuffer
	}
	if err := l.debt.Transfer(l.account, to, amount); err != nil {
		return err
	}
	l.surplusBuffer = new(big.Int).Sub(l.surplusBuffer, amount)
	return nil
}

// CheckInvariants asserts the ledger-internal invariants. Violations are
// accounting corruption, so the caller is expected to treat an error here
// as fatal.
func (l *Ledger) CheckInvariants() error {
	if l.surplusBuffer.Sign() < 0 {
		return fmt.Errorf("surplus buffer negative: %s", l.surplusBuffer)
	}
	for term, b := range l.termSurplus {
		if b.Sign() < 0 {
			return fmt.Errorf("term %s surplus buffer negative: %s", term, b)
		}
	}
	if l.multiplier.Sign() < 0 || l.multiplier.Cmp(fixed.Wad) > 0 {
		return fmt.Errorf("multiplier out of range: %s", l.multiplier)
	}
	if l.totalIssuance.Sign() < 0 {
		return fmt.Errorf("total issuance negative: %s", l.totalIssuance)
	}
	return nil
}
