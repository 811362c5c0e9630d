package core

import (
	"math/big"
	"testing"
	"time"

	"CreditLedger/internal/event"
)

func TestReplayRebuildsHashChain(t *testing.T) {
	live := newHarness(t)
	live.fundCollateral(t, borrower, 2000)

	if err := live.core.ProcessCommand(borrowCmd("b-1", 0, 100, 1000, 1000)); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := live.core.ProcessCommand(borrowCmd("b-2", 1, 200, 500, 500)); err != nil {
		t.Fatalf("second: %v", err)
	}
	outs := live.drain(t)
	if len(outs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(outs))
	}

	// A fresh core replaying the same commands must walk the identical
	// hash chain and end at the same tip.
	replayed := newHarness(t)
	replayed.fundCollateral(t, borrower, 2000)
	for i, cmd := range []*event.Borrow{
		borrowCmd("b-1", 0, 100, 1000, 1000),
		borrowCmd("b-2", 1, 200, 500, 500),
	} {
		if err := replayed.core.Replay(cmd); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if got := replayed.core.StateHash(); got != outs[i].Envelope.StateHash {
			t.Fatalf("hash diverged at sequence %d", i)
		}
	}
	if outs := replayed.drain(t); len(outs) != 0 {
		t.Fatalf("replay emitted %d outputs, want 0", len(outs))
	}
	if replayed.core.Sequence() != live.core.Sequence() {
		t.Fatalf("sequence = %d, want %d", replayed.core.Sequence(), live.core.Sequence())
	}
	if replayed.core.Tick() != 200 {
		t.Fatalf("tick = %d, want 200", replayed.core.Tick())
	}
}

func TestReplayRestoresOrderingAndDedup(t *testing.T) {
	h := newHarness(t)
	h.fundCollateral(t, borrower, 2000)

	if err := h.core.Replay(borrowCmd("b-1", 0, 100, 1000, 1000)); err != nil {
		t.Fatalf("replay: %v", err)
	}

	// The replayed key is a duplicate; the next source sequence resumes
	// where the log left off.
	if err := h.core.ProcessCommand(borrowCmd("b-1", 0, 100, 1000, 1000)); err != nil {
		t.Fatalf("duplicate after replay: %v", err)
	}
	if outs := h.drain(t); len(outs) != 0 {
		t.Fatalf("duplicate emitted %d outputs", len(outs))
	}
	if err := h.core.ProcessCommand(borrowCmd("b-2", 1, 150, 500, 500)); err != nil {
		t.Fatalf("next command after replay: %v", err)
	}
	if outs := h.drain(t); len(outs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(outs))
	}
	if h.core.Sequence() != 2 {
		t.Fatalf("sequence = %d, want 2", h.core.Sequence())
	}
}

func TestAdminCommandsOrderedByTimestamp(t *testing.T) {
	h := newHarness(t)

	now := time.Now().UnixMicro()
	first := &event.GaugeWeightUpdate{Base: base("g-1", 1, 100), TermID: testTerm, Weight: big.NewInt(3)}
	if err := h.core.ProcessCommand(first); err != nil {
		t.Fatalf("gauge update: %v", err)
	}

	// Admin injections use timestamps as sequences; large gaps between
	// them must not be treated as missing upstream commands.
	donate := &event.DonateSurplus{
		Base:   event.Base{Key: "admin:d-1", Seq: now, TickAt: 101},
		From:   "donor",
		Amount: big.NewInt(500),
	}
	if err := h.credit.Mint("donor", big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := h.core.ProcessCommand(donate); err != nil {
		t.Fatalf("admin donate: %v", err)
	}

	later := &event.DonateSurplus{
		Base:   event.Base{Key: "admin:d-2", Seq: now + 1_000_000, TickAt: 102},
		From:   "donor",
		Amount: big.NewInt(100),
	}
	if err := h.credit.Mint("donor", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := h.core.ProcessCommand(later); err != nil {
		t.Fatalf("admin donate with gap: %v", err)
	}

	// Stale admin sequence is skipped without an envelope.
	stale := &event.DonateSurplus{
		Base:   event.Base{Key: "admin:d-0", Seq: now - 10, TickAt: 102},
		From:   "donor",
		Amount: big.NewInt(50),
	}
	if err := h.core.ProcessCommand(stale); err != nil {
		t.Fatalf("stale admin: %v", err)
	}
	outs := h.drain(t)
	if len(outs) != 3 {
		t.Fatalf("outputs = %d, want 3 (stale admin skipped)", len(outs))
	}
	if got := h.ledger.SurplusBuffer(); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("surplus buffer = %s, want 600", got)
	}
}

func TestCheckpointPinsPipelinePosition(t *testing.T) {
	h := newHarness(t)
	h.fundCollateral(t, borrower, 1000)

	if err := h.core.ProcessCommand(borrowCmd("b-1", 0, 100, 1000, 1000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	cp := h.core.Checkpoint()
	if cp.Sequence != 1 || cp.Tick != 100 {
		t.Fatalf("checkpoint = seq %d tick %d, want 1/100", cp.Sequence, cp.Tick)
	}
	if cp.StateHash != h.core.StateHash() {
		t.Fatal("checkpoint hash is not the chain tip")
	}
	if got := cp.SequenceState["term:"+testTerm]; got != 1 {
		t.Fatalf("expected next sequence for term partition = %d, want 1", got)
	}
	if len(cp.IdempotencyKeys) != 1 || cp.IdempotencyKeys[0] != "Borrow:b-1" {
		t.Fatalf("checkpoint keys = %v", cp.IdempotencyKeys)
	}
}
