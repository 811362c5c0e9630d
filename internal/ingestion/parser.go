package ingestion

import (
	"CreditLedger/internal/event"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// ParseCommand converts a RawCommand's JSON payload into a typed
// event.Command. The shell validates here so the core only ever sees
// well-formed commands: bad ones are rejected at the edge and never
// consume a sequence number.
func ParseCommand(raw RawCommand) (event.Command, error) {
	switch raw.CommandName {
	case "Borrow":
		return parseBorrow(raw.Data)
	case "AddCollateral":
		return parseAddCollateral(raw.Data)
	case "PartialRepay":
		return parsePartialRepay(raw.Data)
	case "Repay":
		return parseRepay(raw.Data)
	case "Call":
		return parseCall(raw.Data)
	case "Bid":
		return parseBid(raw.Data)
	case "ForgiveAuction":
		return parseForgiveAuction(raw.Data)
	case "ForgiveLoan":
		return parseForgiveLoan(raw.Data)
	case "DonateSurplus":
		return parseDonateSurplus(raw.Data)
	case "WithdrawSurplus":
		return parseWithdrawSurplus(raw.Data)
	case "ClaimRewards":
		return parseClaimRewards(raw.Data)
	case "GaugeWeightUpdate":
		return parseGaugeWeightUpdate(raw.Data)
	case "GaugeStakeUpdate":
		return parseGaugeStakeUpdate(raw.Data)
	case "MintCollateral":
		return parseMintCollateral(raw.Data)
	case "MintCredit":
		return parseMintCredit(raw.Data)
	case "ApproveCollateral":
		return parseApproveCollateral(raw.Data)
	case "ApproveCredit":
		return parseApproveCredit(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", raw.CommandName)
	}
}

// The command structs double as the wire format: upstream producers send
// snake_case JSON matching the struct tags in internal/event.

func checkBase(b event.Base) error {
	if b.Key == "" {
		return fmt.Errorf("missing idempotency_key")
	}
	if b.Seq < 0 {
		return fmt.Errorf("negative source_sequence %d", b.Seq)
	}
	if b.TickAt < 0 {
		return fmt.Errorf("negative tick %d", b.TickAt)
	}
	return nil
}

func checkTerm(term string) error {
	if term == "" {
		return fmt.Errorf("missing term")
	}
	return nil
}

func checkAddr(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("missing %s", name)
	}
	return nil
}

func checkLoanID(id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing loan_id")
	}
	return nil
}

func checkAmount(name string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("missing %s", name)
	}
	if v.Sign() <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, v)
	}
	return nil
}

// checkAllowance allows zero: approving zero revokes the allowance.
func checkAllowance(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("missing amount")
	}
	if v.Sign() < 0 {
		return fmt.Errorf("amount must be non-negative, got %s", v)
	}
	return nil
}

// checkWeight allows zero: a zero gauge weight winds a term down and a
// zero stake weight is a full unstake.
func checkWeight(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("missing weight")
	}
	if v.Sign() < 0 {
		return fmt.Errorf("weight must be non-negative, got %s", v)
	}
	return nil
}

func parseBorrow(data []byte) (*event.Borrow, error) {
	var c event.Borrow
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse Borrow: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("borrower", c.Borrower),
		checkAmount("borrow_amount", c.BorrowAmount),
		checkAmount("collateral_amount", c.CollateralAmount),
	); err != nil {
		return nil, fmt.Errorf("parse Borrow: %w", err)
	}
	return &c, nil
}

func parseAddCollateral(data []byte) (*event.AddCollateral, error) {
	var c event.AddCollateral
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse AddCollateral: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("from", c.From),
		checkLoanID(c.LoanID),
		checkAmount("amount", c.Amount),
	); err != nil {
		return nil, fmt.Errorf("parse AddCollateral: %w", err)
	}
	return &c, nil
}

func parsePartialRepay(data []byte) (*event.PartialRepay, error) {
	var c event.PartialRepay
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse PartialRepay: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("payer", c.Payer),
		checkLoanID(c.LoanID),
		checkAmount("amount", c.Amount),
	); err != nil {
		return nil, fmt.Errorf("parse PartialRepay: %w", err)
	}
	return &c, nil
}

func parseRepay(data []byte) (*event.Repay, error) {
	var c event.Repay
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse Repay: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("payer", c.Payer),
		checkLoanID(c.LoanID),
	); err != nil {
		return nil, fmt.Errorf("parse Repay: %w", err)
	}
	return &c, nil
}

func parseCall(data []byte) (*event.Call, error) {
	var c event.Call
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse Call: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("caller", c.Caller),
		checkLoanID(c.LoanID),
	); err != nil {
		return nil, fmt.Errorf("parse Call: %w", err)
	}
	return &c, nil
}

func parseBid(data []byte) (*event.Bid, error) {
	var c event.Bid
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse Bid: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("bidder", c.Bidder),
		checkLoanID(c.LoanID),
	); err != nil {
		return nil, fmt.Errorf("parse Bid: %w", err)
	}
	return &c, nil
}

func parseForgiveAuction(data []byte) (*event.ForgiveAuction, error) {
	var c event.ForgiveAuction
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse ForgiveAuction: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("caller", c.Caller),
		checkLoanID(c.LoanID),
	); err != nil {
		return nil, fmt.Errorf("parse ForgiveAuction: %w", err)
	}
	return &c, nil
}

func parseForgiveLoan(data []byte) (*event.ForgiveLoan, error) {
	var c event.ForgiveLoan
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse ForgiveLoan: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("caller", c.Caller),
		checkLoanID(c.LoanID),
	); err != nil {
		return nil, fmt.Errorf("parse ForgiveLoan: %w", err)
	}
	return &c, nil
}

func parseDonateSurplus(data []byte) (*event.DonateSurplus, error) {
	var c event.DonateSurplus
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse DonateSurplus: %w", err)
	}
	// Term is optional: empty routes the donation to the global buffer.
	if err := firstErr(
		checkBase(c.Base),
		checkAddr("from", c.From),
		checkAmount("amount", c.Amount),
	); err != nil {
		return nil, fmt.Errorf("parse DonateSurplus: %w", err)
	}
	return &c, nil
}

func parseWithdrawSurplus(data []byte) (*event.WithdrawSurplus, error) {
	var c event.WithdrawSurplus
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse WithdrawSurplus: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkAddr("caller", c.Caller),
		checkAddr("to", c.To),
		checkAmount("amount", c.Amount),
	); err != nil {
		return nil, fmt.Errorf("parse WithdrawSurplus: %w", err)
	}
	return &c, nil
}

func parseClaimRewards(data []byte) (*event.ClaimRewards, error) {
	var c event.ClaimRewards
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse ClaimRewards: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("user", c.User),
	); err != nil {
		return nil, fmt.Errorf("parse ClaimRewards: %w", err)
	}
	return &c, nil
}

func parseGaugeWeightUpdate(data []byte) (*event.GaugeWeightUpdate, error) {
	var c event.GaugeWeightUpdate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse GaugeWeightUpdate: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkWeight(c.Weight),
	); err != nil {
		return nil, fmt.Errorf("parse GaugeWeightUpdate: %w", err)
	}
	return &c, nil
}

func parseGaugeStakeUpdate(data []byte) (*event.GaugeStakeUpdate, error) {
	var c event.GaugeStakeUpdate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse GaugeStakeUpdate: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("staker", c.Staker),
		checkWeight(c.Weight),
	); err != nil {
		return nil, fmt.Errorf("parse GaugeStakeUpdate: %w", err)
	}
	return &c, nil
}

func parseMintCollateral(data []byte) (*event.MintCollateral, error) {
	var c event.MintCollateral
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse MintCollateral: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("caller", c.Caller),
		checkAddr("to", c.To),
		checkAmount("amount", c.Amount),
	); err != nil {
		return nil, fmt.Errorf("parse MintCollateral: %w", err)
	}
	return &c, nil
}

func parseMintCredit(data []byte) (*event.MintCredit, error) {
	var c event.MintCredit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse MintCredit: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkAddr("caller", c.Caller),
		checkAddr("to", c.To),
		checkAmount("amount", c.Amount),
	); err != nil {
		return nil, fmt.Errorf("parse MintCredit: %w", err)
	}
	return &c, nil
}

func parseApproveCollateral(data []byte) (*event.ApproveCollateral, error) {
	var c event.ApproveCollateral
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse ApproveCollateral: %w", err)
	}
	// Spender is optional: empty targets the term's book escrow.
	if err := firstErr(
		checkBase(c.Base),
		checkTerm(c.TermID),
		checkAddr("owner", c.Owner),
		checkAllowance(c.Amount),
	); err != nil {
		return nil, fmt.Errorf("parse ApproveCollateral: %w", err)
	}
	return &c, nil
}

func parseApproveCredit(data []byte) (*event.ApproveCredit, error) {
	var c event.ApproveCredit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse ApproveCredit: %w", err)
	}
	if err := firstErr(
		checkBase(c.Base),
		checkAddr("owner", c.Owner),
		checkAddr("spender", c.Spender),
		checkAllowance(c.Amount),
	); err != nil {
		return nil, fmt.Errorf("parse ApproveCredit: %w", err)
	}
	return &c, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
