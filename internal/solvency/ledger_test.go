package solvency_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/rs/zerolog"

	"CreditLedger/internal/fixed"
	"CreditLedger/internal/gauge"
	"CreditLedger/internal/solvency"
	"CreditLedger/internal/token"
)

const ledgerAccount = token.Address("solvency-ledger")

func wadFrac(num, den int64) *big.Int {
	return fixed.MulDivDown(fixed.Wad, big.NewInt(num), big.NewInt(den))
}

func newTestLedger(t *testing.T, cfg solvency.Config, debt *token.Token, gauges *gauge.Oracle) *solvency.Ledger {
	t.Helper()
	l, err := solvency.NewLedger(cfg, debt, gauges, ledgerAccount, zerolog.Nop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l
}

func TestNotifyPnL_LossDrainsBuffersThenMarksDown(t *testing.T) {
	debt := token.New("CREDIT")
	debt.Mint("holders", big.NewInt(1000))
	l := newTestLedger(t, solvency.Config{}, debt, gauge.NewOracle())

	if err := l.DonateToSurplusBuffer("holders", big.NewInt(0)); !errors.Is(err, solvency.ErrInvalidAmount) {
		t.Fatalf("zero donate: got %v, want ErrInvalidAmount", err)
	}
	// 10 in the global buffer, none on the term.
	debt.Mint("donor", big.NewInt(10))
	if err := l.DonateToSurplusBuffer("donor", big.NewInt(10)); err != nil {
		t.Fatalf("donate: %v", err)
	}

	// Loss of 15 against buffer of 10: buffer to zero, multiplier reduced
	// by 5/totalSupply.
	if err := l.NotifyPnL("term-a", big.NewInt(-15), nil); err != nil {
		t.Fatalf("notify loss: %v", err)
	}
	if got := l.SurplusBuffer().Sign(); got != 0 {
		t.Errorf("surplus buffer: got %s, want 0", l.SurplusBuffer())
	}

	supply := debt.TotalSupply()
	want := fixed.MulDivDown(fixed.Wad, new(big.Int).Sub(supply, big.NewInt(5)), supply)
	if got := l.DevaluationMultiplier(); got.Cmp(want) != 0 {
		t.Errorf("multiplier: got %s, want %s", got, want)
	}
}

func TestNotifyPnL_TermBufferLeftoverDonatedToGlobal(t *testing.T) {
	debt := token.New("CREDIT")
	debt.Mint("donor", big.NewInt(100))
	l := newTestLedger(t, solvency.Config{}, debt, gauge.NewOracle())

	if err := l.DonateToTermSurplusBuffer("donor", "term-a", big.NewInt(20)); err != nil {
		t.Fatalf("term donate: %v", err)
	}

	// Loss of 5 slashes the whole term buffer; the 15 leftover lands in
	// the global buffer.
	if err := l.NotifyPnL("term-a", big.NewInt(-5), nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got := l.TermSurplusBuffer("term-a").Sign(); got != 0 {
		t.Errorf("term buffer not fully drained: %s", l.TermSurplusBuffer("term-a"))
	}
	if got := l.SurplusBuffer().Int64(); got != 15 {
		t.Errorf("global buffer: got %d, want 15", got)
	}
	if got := l.DevaluationMultiplier(); got.Cmp(fixed.Wad) != 0 {
		t.Errorf("multiplier moved despite full coverage: %s", got)
	}
}

func TestNotifyPnL_BufferCoverageBurnsSupply(t *testing.T) {
	debt := token.New("CREDIT")
	debt.Mint("holders", big.NewInt(1000))
	debt.Mint("donor", big.NewInt(40))
	l := newTestLedger(t, solvency.Config{}, debt, gauge.NewOracle())

	if err := l.DonateToTermSurplusBuffer("donor", "term-a", big.NewInt(10)); err != nil {
		t.Fatalf("term donate: %v", err)
	}
	if err := l.DonateToSurplusBuffer("donor", big.NewInt(30)); err != nil {
		t.Fatalf("donate: %v", err)
	}

	// Loss of 25: 10 from the term buffer, 15 from the global one. The
	// written-off capital must leave the supply, not sit on the ledger
	// account inflating later markdown denominators.
	before := debt.TotalSupply()
	if err := l.NotifyPnL("term-a", big.NewInt(-25), nil); err != nil {
		t.Fatalf("covered loss: %v", err)
	}
	want := new(big.Int).Sub(before, big.NewInt(25))
	if got := debt.TotalSupply(); got.Cmp(want) != 0 {
		t.Errorf("supply after covered loss: got %s, want %s", got, want)
	}
	if got := l.DevaluationMultiplier(); got.Cmp(fixed.Wad) != 0 {
		t.Errorf("multiplier moved despite full coverage: %s", got)
	}

	// Second loss of 115 eats the remaining 15 of buffer (burned, supply
	// down to 1000) and marks the 100 uncovered against that supply.
	if err := l.NotifyPnL("term-a", big.NewInt(-115), nil); err != nil {
		t.Fatalf("uncovered loss: %v", err)
	}
	if got := debt.TotalSupply().Int64(); got != 1000 {
		t.Errorf("supply after second loss: got %d, want 1000", got)
	}
	wantMult := fixed.MulDivDown(fixed.Wad, big.NewInt(900), big.NewInt(1000))
	if got := l.DevaluationMultiplier(); got.Cmp(wantMult) != 0 {
		t.Errorf("multiplier: got %s, want %s", got, wantMult)
	}
}

func TestNotifyPnL_LossBeyondSupplyFloorsMultiplierAtZero(t *testing.T) {
	debt := token.New("CREDIT")
	debt.Mint("holders", big.NewInt(10))
	l := newTestLedger(t, solvency.Config{}, debt, gauge.NewOracle())

	if err := l.NotifyPnL("term-a", big.NewInt(-100), nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got := l.DevaluationMultiplier().Sign(); got != 0 {
		t.Errorf("multiplier: got %s, want 0", l.DevaluationMultiplier())
	}
}

func TestNotifyPnL_MultiplierMonotone(t *testing.T) {
	debt := token.New("CREDIT")
	debt.Mint("holders", big.NewInt(1000))
	l := newTestLedger(t, solvency.Config{SurplusSplitWad: wadFrac(1, 2)}, debt, gauge.NewOracle())

	prev := l.DevaluationMultiplier()
	steps := []int64{-3, 7, -10, 2, -1, -50}
	for _, s := range steps {
		if s > 0 {
			debt.Mint(ledgerAccount, big.NewInt(s))
		}
		if err := l.NotifyPnL("term-a", big.NewInt(s), nil); err != nil {
			t.Fatalf("notify %d: %v", s, err)
		}
		cur := l.DevaluationMultiplier()
		if cur.Cmp(prev) > 0 {
			t.Fatalf("multiplier increased: %s -> %s", prev, cur)
		}
		prev = cur
	}
}

func TestNotifyPnL_ProfitSplit(t *testing.T) {
	debt := token.New("CREDIT")
	gauges := gauge.NewOracle()
	gauges.SetStake("term-a", "alice", big.NewInt(3))
	gauges.SetStake("term-a", "bob", big.NewInt(1))

	cfg := solvency.Config{
		SurplusSplitWad: wadFrac(1, 4), // 25%
		GaugeSplitWad:   wadFrac(1, 2), // 50%
		OtherSplitWad:   wadFrac(1, 4), // 25%
		OtherRecipient:  "treasury",
	}
	l := newTestLedger(t, cfg, debt, gauges)

	// Profit tokens arrive on the ledger account before notification.
	debt.Mint(ledgerAccount, big.NewInt(100))
	if err := l.NotifyPnL("term-a", big.NewInt(100), nil); err != nil {
		t.Fatalf("notify profit: %v", err)
	}

	if got := l.SurplusBuffer().Int64(); got != 25 {
		t.Errorf("surplus share: got %d, want 25", got)
	}
	if got := debt.BalanceOf("treasury").Int64(); got != 25 {
		t.Errorf("treasury share: got %d, want 25", got)
	}

	// 50 split 3:1 between alice and bob via the index.
	aliceOwed := l.PendingRewards("alice", "term-a")
	bobOwed := l.PendingRewards("bob", "term-a")
	if aliceOwed.Int64() != 37 { // floor(3 * 50/4 ... index truncation)
		t.Errorf("alice pending: got %d, want 37", aliceOwed.Int64())
	}
	if bobOwed.Int64() != 12 {
		t.Errorf("bob pending: got %d, want 12", bobOwed.Int64())
	}

	paid, err := l.ClaimGaugeRewards("alice", "term-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Cmp(aliceOwed) != 0 {
		t.Errorf("claim paid %s, pending was %s", paid, aliceOwed)
	}
	if got := debt.BalanceOf("alice"); got.Cmp(aliceOwed) != 0 {
		t.Errorf("alice balance: got %s, want %s", got, aliceOwed)
	}

	// Second claim with no new profit pays nothing.
	paid, err = l.ClaimGaugeRewards("alice", "term-a")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if paid.Sign() != 0 {
		t.Errorf("second claim paid %s, want 0", paid)
	}
}

func TestNotifyPnL_GaugeShareFallsThroughWithoutStakers(t *testing.T) {
	debt := token.New("CREDIT")
	cfg := solvency.Config{GaugeSplitWad: wadFrac(1, 2)}
	l := newTestLedger(t, cfg, debt, gauge.NewOracle())

	debt.Mint(ledgerAccount, big.NewInt(100))
	if err := l.NotifyPnL("term-a", big.NewInt(100), nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got := l.SurplusBuffer().Int64(); got != 50 {
		t.Errorf("surplus buffer: got %d, want 50", got)
	}
}

func TestNotifyPnL_IssuanceCeiling(t *testing.T) {
	debt := token.New("CREDIT")
	cfg := solvency.Config{GlobalDebtCeiling: big.NewInt(100)}
	l := newTestLedger(t, cfg, debt, gauge.NewOracle())

	if err := l.NotifyPnL("term-a", nil, big.NewInt(80)); err != nil {
		t.Fatalf("issuance 80: %v", err)
	}
	if err := l.NotifyPnL("term-a", nil, big.NewInt(30)); !errors.Is(err, solvency.ErrDebtCeiling) {
		t.Errorf("got %v, want ErrDebtCeiling", err)
	}
	// Decreases are always allowed.
	if err := l.NotifyPnL("term-a", nil, big.NewInt(-80)); err != nil {
		t.Fatalf("issuance decrease: %v", err)
	}
	if got := l.TotalIssuance().Sign(); got != 0 {
		t.Errorf("issuance: got %s, want 0", l.TotalIssuance())
	}
}

func TestMinBorrow_ScalesInverselyWithMultiplier(t *testing.T) {
	debt := token.New("CREDIT")
	debt.Mint("holders", big.NewInt(100))
	cfg := solvency.Config{MinBorrowReal: big.NewInt(20)}
	l := newTestLedger(t, cfg, debt, gauge.NewOracle())

	if got := l.MinBorrow().Int64(); got != 20 {
		t.Errorf("floor at 1.0: got %d, want 20", got)
	}

	// Halve the multiplier: floor doubles in nominal terms.
	if err := l.NotifyPnL("term-a", big.NewInt(-50), nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got := l.MinBorrow().Int64(); got != 40 {
		t.Errorf("floor at 0.5: got %d, want 40", got)
	}
}

func TestWithdrawFromSurplusBuffer(t *testing.T) {
	debt := token.New("CREDIT")
	debt.Mint("donor", big.NewInt(50))
	l := newTestLedger(t, solvency.Config{}, debt, gauge.NewOracle())

	if err := l.DonateToSurplusBuffer("donor", big.NewInt(50)); err != nil {
		t.Fatalf("donate: %v", err)
	}
	if err := l.WithdrawFromSurplusBuffer("treasury", big.NewInt(60)); !errors.Is(err, solvency.ErrInsufficientBuffer) {
		t.Errorf("got %v, want ErrInsufficientBuffer", err)
	}
	if err := l.WithdrawFromSurplusBuffer("treasury", big.NewInt(30)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := l.SurplusBuffer().Int64(); got != 20 {
		t.Errorf("buffer: got %d, want 20", got)
	}
	if got := debt.BalanceOf("treasury").Int64(); got != 30 {
		t.Errorf("treasury: got %d, want 30", got)
	}
}

func TestNewLedger_RejectsOversizedSplit(t *testing.T) {
	cfg := solvency.Config{
		SurplusSplitWad: wadFrac(3, 4),
		GaugeSplitWad:   wadFrac(1, 2),
	}
	_, err := solvency.NewLedger(cfg, token.New("CREDIT"), gauge.NewOracle(), ledgerAccount, zerolog.Nop())
	if !errors.Is(err, solvency.ErrBadSplit) {
		t.Errorf("got %v, want ErrBadSplit", err)
	}
}
