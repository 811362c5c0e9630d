package ingestion_test

import (
	"CreditLedger/internal/event"
	"CreditLedger/internal/ingestion"
	"encoding/json"
	"math/big"
	"testing"
	"time"
)

func rawFromJSON(t *testing.T, commandName string, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:     "test",
		CommandName: commandName,
		Data:        data,
		Received:    time.Now(),
		AckFunc:     func() {},
		NakFunc:     func() {},
	}
}

func TestParseBorrow(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key":   "borrow-1",
		"source_sequence":   int64(7),
		"tick":              int64(1_700_000_000),
		"term":              "usdc-1",
		"borrower":          "alice",
		"borrow_amount":     json.Number("1000000000000000000000"),
		"collateral_amount": json.Number("1500000000000000000000"),
	}

	raw := rawFromJSON(t, "Borrow", payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	b, ok := cmd.(*event.Borrow)
	if !ok {
		t.Fatalf("expected *event.Borrow, got %T", cmd)
	}

	if b.TermID != "usdc-1" {
		t.Errorf("term: got %s, want usdc-1", b.TermID)
	}
	if b.Borrower != "alice" {
		t.Errorf("borrower: got %s, want alice", b.Borrower)
	}
	want, _ := new(big.Int).SetString("1000000000000000000000", 10)
	if b.BorrowAmount.Cmp(want) != 0 {
		t.Errorf("borrow_amount: got %s, want %s", b.BorrowAmount, want)
	}
	if b.IdempotencyKey() != "borrow-1" {
		t.Errorf("idempotency key: got %s, want borrow-1", b.IdempotencyKey())
	}
	if b.SourceSequence() != 7 {
		t.Errorf("source_sequence: got %d, want 7", b.SourceSequence())
	}
	if b.Tick() != 1_700_000_000 {
		t.Errorf("tick: got %d, want 1_700_000_000", b.Tick())
	}
	if b.CommandType() != event.CommandTypeBorrow {
		t.Errorf("command type: got %v, want Borrow", b.CommandType())
	}
}

func TestParseBid(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "bid-1",
		"source_sequence": int64(3),
		"tick":            int64(100),
		"term":            "usdc-1",
		"bidder":          "bob",
		"loan_id":         "550e8400-e29b-41d4-a716-446655440000",
	}

	raw := rawFromJSON(t, "Bid", payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	b, ok := cmd.(*event.Bid)
	if !ok {
		t.Fatalf("expected *event.Bid, got %T", cmd)
	}
	if b.Bidder != "bob" {
		t.Errorf("bidder: got %s, want bob", b.Bidder)
	}
	if b.LoanID.String() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("loan_id: got %s", b.LoanID)
	}
	if term := b.Term(); term == nil || *term != "usdc-1" {
		t.Errorf("term: got %v, want usdc-1", term)
	}
}

func TestParseDonateSurplusGlobal(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "donate-1",
		"source_sequence": int64(1),
		"tick":            int64(50),
		"from":            "treasury",
		"amount":          json.Number("500"),
	}

	raw := rawFromJSON(t, "DonateSurplus", payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := cmd.(*event.DonateSurplus)
	if !ok {
		t.Fatalf("expected *event.DonateSurplus, got %T", cmd)
	}
	if d.Term() != nil {
		t.Errorf("term: got %v, want nil for global donation", *d.Term())
	}
	if d.Amount.Int64() != 500 {
		t.Errorf("amount: got %s, want 500", d.Amount)
	}
}

func TestParseGaugeWeightUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "gauge-1",
		"source_sequence": int64(12),
		"tick":            int64(200),
		"term":            "usdc-1",
		"weight":          json.Number("0"),
		"deprecated":      true,
	}

	raw := rawFromJSON(t, "GaugeWeightUpdate", payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	g, ok := cmd.(*event.GaugeWeightUpdate)
	if !ok {
		t.Fatalf("expected *event.GaugeWeightUpdate, got %T", cmd)
	}
	if g.Weight.Sign() != 0 {
		t.Errorf("weight: got %s, want 0", g.Weight)
	}
	if !g.Deprecated {
		t.Error("deprecated: got false, want true")
	}
}

func TestParseGaugeStakeUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "stake-1",
		"source_sequence": int64(4),
		"tick":            int64(60),
		"term":            "usdc-1",
		"staker":          "carol",
		"weight":          json.Number("250000000000000000000"),
	}

	raw := rawFromJSON(t, "GaugeStakeUpdate", payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	s, ok := cmd.(*event.GaugeStakeUpdate)
	if !ok {
		t.Fatalf("expected *event.GaugeStakeUpdate, got %T", cmd)
	}
	if s.Staker != "carol" {
		t.Errorf("staker: got %s, want carol", s.Staker)
	}
}

func TestParseMissingIdempotencyKey_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"source_sequence":   int64(7),
		"tick":              int64(1),
		"term":              "usdc-1",
		"borrower":          "alice",
		"borrow_amount":     json.Number("100"),
		"collateral_amount": json.Number("200"),
	}

	raw := rawFromJSON(t, "Borrow", payload)
	if _, err := ingestion.ParseCommand(raw); err == nil {
		t.Fatal("expected error for missing idempotency_key")
	}
}

func TestParseNonPositiveAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key":   "borrow-2",
		"source_sequence":   int64(8),
		"tick":              int64(1),
		"term":              "usdc-1",
		"borrower":          "alice",
		"borrow_amount":     json.Number("0"),
		"collateral_amount": json.Number("200"),
	}

	raw := rawFromJSON(t, "Borrow", payload)
	if _, err := ingestion.ParseCommand(raw); err == nil {
		t.Fatal("expected error for zero borrow_amount")
	}
}

func TestParseMissingLoanID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "repay-1",
		"source_sequence": int64(2),
		"tick":            int64(5),
		"term":            "usdc-1",
		"payer":           "alice",
	}

	raw := rawFromJSON(t, "Repay", payload)
	if _, err := ingestion.ParseCommand(raw); err == nil {
		t.Fatal("expected error for missing loan_id")
	}
}

func TestParseMintCollateral(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "mint-1",
		"source_sequence": int64(1),
		"tick":            int64(10),
		"term":            "usdc-1",
		"caller":          "gov",
		"to":              "alice",
		"amount":          json.Number("500"),
	}

	raw := rawFromJSON(t, "MintCollateral", payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	m, ok := cmd.(*event.MintCollateral)
	if !ok {
		t.Fatalf("expected *event.MintCollateral, got %T", cmd)
	}
	if m.Caller != "gov" || m.To != "alice" {
		t.Errorf("caller/to: got %s/%s, want gov/alice", m.Caller, m.To)
	}
	if m.Amount.Int64() != 500 {
		t.Errorf("amount: got %s, want 500", m.Amount)
	}
	if term := m.Term(); term == nil || *term != "usdc-1" {
		t.Errorf("term: got %v, want usdc-1", term)
	}
}

func TestParseApproveCollateral_SpenderOptional(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "approve-1",
		"source_sequence": int64(2),
		"tick":            int64(10),
		"term":            "usdc-1",
		"owner":           "alice",
		"amount":          json.Number("0"),
	}

	raw := rawFromJSON(t, "ApproveCollateral", payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	a, ok := cmd.(*event.ApproveCollateral)
	if !ok {
		t.Fatalf("expected *event.ApproveCollateral, got %T", cmd)
	}
	if a.Spender != "" {
		t.Errorf("spender: got %s, want empty", a.Spender)
	}
	// Zero revokes the allowance and must parse.
	if a.Amount.Sign() != 0 {
		t.Errorf("amount: got %s, want 0", a.Amount)
	}
}

func TestParseApproveCredit_MissingSpender_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "approve-2",
		"source_sequence": int64(3),
		"tick":            int64(10),
		"owner":           "carol",
		"amount":          json.Number("100"),
	}
	raw := rawFromJSON(t, "ApproveCredit", payload)
	if _, err := ingestion.ParseCommand(raw); err == nil {
		t.Fatal("expected error for missing spender")
	}
}

func TestParseUnknownCommandType_Fails(t *testing.T) {
	raw := ingestion.RawCommand{CommandName: "NonExistentType", Data: []byte(`{}`)}
	if _, err := ingestion.ParseCommand(raw); err == nil {
		t.Fatal("expected error for unknown command type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawCommand{CommandName: "Borrow", Data: []byte(`{invalid json`)}
	if _, err := ingestion.ParseCommand(raw); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
