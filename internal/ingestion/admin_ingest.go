package ingestion

import (
	"CreditLedger/internal/event"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// AdminIngestService injects operator commands directly into the core's
// input channel, bypassing NATS. It exists for manual interventions
// (deprecating a term, writing off a loan, moving surplus), not for
// high-throughput ingestion.
//
// Injected commands carry an "admin:" idempotency key prefix and the
// microsecond timestamp as source sequence; the core orders them on
// their own partition so they never collide with upstream sequencing.
type AdminIngestService struct {
	commandChan chan<- event.Command
}

func NewAdminIngestService(commandChan chan<- event.Command) *AdminIngestService {
	return &AdminIngestService{commandChan: commandChan}
}

func adminBase(tick int64) event.Base {
	return event.Base{
		Key:    "admin:" + uuid.NewString(),
		Seq:    time.Now().UnixMicro(),
		TickAt: tick,
	}
}

// InjectGaugeWeight sets a term's gauge weight, optionally deprecating it.
func (s *AdminIngestService) InjectGaugeWeight(
	ctx context.Context,
	term string,
	weight *big.Int,
	deprecated bool,
	tick int64,
) error {
	if term == "" {
		return fmt.Errorf("term must be set")
	}
	if weight == nil || weight.Sign() < 0 {
		return fmt.Errorf("weight must be non-negative")
	}

	cmd := &event.GaugeWeightUpdate{
		Base:       adminBase(tick),
		TermID:     term,
		Weight:     new(big.Int).Set(weight),
		Deprecated: deprecated,
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectForgiveLoan writes a loan off without moving collateral.
// The core still enforces the governor role on the caller address.
func (s *AdminIngestService) InjectForgiveLoan(
	ctx context.Context,
	term string,
	caller string,
	loanID uuid.UUID,
	tick int64,
) error {
	if term == "" || caller == "" {
		return fmt.Errorf("term and caller must be set")
	}
	if loanID == uuid.Nil {
		return fmt.Errorf("loan_id must be set")
	}

	cmd := &event.ForgiveLoan{
		Base:   adminBase(tick),
		TermID: term,
		Caller: caller,
		LoanID: loanID,
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectSurplusDonation adds first-loss capital. An empty term targets
// the global buffer.
func (s *AdminIngestService) InjectSurplusDonation(
	ctx context.Context,
	term string,
	from string,
	amount *big.Int,
	tick int64,
) error {
	if from == "" {
		return fmt.Errorf("from must be set")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	cmd := &event.DonateSurplus{
		Base:   adminBase(tick),
		TermID: term,
		From:   from,
		Amount: new(big.Int).Set(amount),
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectCollateralMint credits collateral of a term to a holder. The
// core enforces the governor role on the caller address.
func (s *AdminIngestService) InjectCollateralMint(
	ctx context.Context,
	term string,
	caller string,
	to string,
	amount *big.Int,
	tick int64,
) error {
	if term == "" || caller == "" || to == "" {
		return fmt.Errorf("term, caller, and to must be set")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	cmd := &event.MintCollateral{
		Base:   adminBase(tick),
		TermID: term,
		Caller: caller,
		To:     to,
		Amount: new(big.Int).Set(amount),
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectCreditMint issues credit outside the borrow path. The core
// enforces the governor role on the caller address.
func (s *AdminIngestService) InjectCreditMint(
	ctx context.Context,
	caller string,
	to string,
	amount *big.Int,
	tick int64,
) error {
	if caller == "" || to == "" {
		return fmt.Errorf("caller and to must be set")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	cmd := &event.MintCredit{
		Base:   adminBase(tick),
		Caller: caller,
		To:     to,
		Amount: new(big.Int).Set(amount),
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectCollateralApproval sets the owner's collateral allowance on a
// term. An empty spender targets the term's book escrow.
func (s *AdminIngestService) InjectCollateralApproval(
	ctx context.Context,
	term string,
	owner string,
	spender string,
	amount *big.Int,
	tick int64,
) error {
	if term == "" || owner == "" {
		return fmt.Errorf("term and owner must be set")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("amount must be non-negative")
	}

	cmd := &event.ApproveCollateral{
		Base:    adminBase(tick),
		TermID:  term,
		Owner:   owner,
		Spender: spender,
		Amount:  new(big.Int).Set(amount),
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectCreditApproval sets the owner's credit allowance for a spender.
func (s *AdminIngestService) InjectCreditApproval(
	ctx context.Context,
	owner string,
	spender string,
	amount *big.Int,
	tick int64,
) error {
	if owner == "" || spender == "" {
		return fmt.Errorf("owner and spender must be set")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("amount must be non-negative")
	}

	cmd := &event.ApproveCredit{
		Base:    adminBase(tick),
		Owner:   owner,
		Spender: spender,
		Amount:  new(big.Int).Set(amount),
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectSurplusWithdrawal removes capital from the global buffer.
// The core enforces the surplus-manager role on the caller address.
func (s *AdminIngestService) InjectSurplusWithdrawal(
	ctx context.Context,
	caller string,
	to string,
	amount *big.Int,
	tick int64,
) error {
	if caller == "" || to == "" {
		return fmt.Errorf("caller and to must be set")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	cmd := &event.WithdrawSurplus{
		Base:   adminBase(tick),
		Caller: caller,
		To:     to,
		Amount: new(big.Int).Set(amount),
	}

	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
