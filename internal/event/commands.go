package event

import (
	"math/big"

	"github.com/google/uuid"
)

// Base carries the fields shared by every command: the upstream dedup
// key, the upstream sequence, and the versioned clock tick. Commands
// never read wall-clock time.
type Base struct {
	Key    string `json:"idempotency_key"`
	Seq    int64  `json:"source_sequence"`
	TickAt int64  `json:"tick"`
}

func (b Base) IdempotencyKey() string { return b.Key }
func (b Base) SourceSequence() int64  { return b.Seq }
func (b Base) Tick() int64            { return b.TickAt }

// Borrow opens a loan.
type Borrow struct {
	Base
	TermID           string   `json:"term"`
	Borrower         string   `json:"borrower"`
	BorrowAmount     *big.Int `json:"borrow_amount"`
	CollateralAmount *big.Int `json:"collateral_amount"`
}

func (c *Borrow) CommandType() CommandType { return CommandTypeBorrow }
func (c *Borrow) Term() *string            { return &c.TermID }

// AddCollateral tops up an open loan.
type AddCollateral struct {
	Base
	TermID string    `json:"term"`
	From   string    `json:"from"`
	LoanID uuid.UUID `json:"loan_id"`
	Amount *big.Int  `json:"amount"`
}

func (c *AddCollateral) CommandType() CommandType { return CommandTypeAddCollateral }
func (c *AddCollateral) Term() *string            { return &c.TermID }

// PartialRepay repays part of a loan's debt.
type PartialRepay struct {
	Base
	TermID string    `json:"term"`
	Payer  string    `json:"payer"`
	LoanID uuid.UUID `json:"loan_id"`
	Amount *big.Int  `json:"amount"`
}

func (c *PartialRepay) CommandType() CommandType { return CommandTypePartialRepay }
func (c *PartialRepay) Term() *string            { return &c.TermID }

// Repay settles a loan's full debt.
type Repay struct {
	Base
	TermID string    `json:"term"`
	Payer  string    `json:"payer"`
	LoanID uuid.UUID `json:"loan_id"`
}

func (c *Repay) CommandType() CommandType { return CommandTypeRepay }
func (c *Repay) Term() *string            { return &c.TermID }

// Call forces a loan into liquidation and starts its auction.
type Call struct {
	Base
	TermID string    `json:"term"`
	Caller string    `json:"caller"`
	LoanID uuid.UUID `json:"loan_id"`
}

func (c *Call) CommandType() CommandType { return CommandTypeCall }
func (c *Call) Term() *string            { return &c.TermID }

// Bid settles an auction at the current price.
type Bid struct {
	Base
	TermID string    `json:"term"`
	Bidder string    `json:"bidder"`
	LoanID uuid.UUID `json:"loan_id"`
}

func (c *Bid) CommandType() CommandType { return CommandTypeBid }
func (c *Bid) Term() *string            { return &c.TermID }

// ForgiveAuction ends a zero-debt auction with an empty settlement.
type ForgiveAuction struct {
	Base
	TermID string    `json:"term"`
	Caller string    `json:"caller"`
	LoanID uuid.UUID `json:"loan_id"`
}

func (c *ForgiveAuction) CommandType() CommandType { return CommandTypeForgiveAuction }
func (c *ForgiveAuction) Term() *string            { return &c.TermID }

// ForgiveLoan writes a loan off without moving collateral. Role-gated.
type ForgiveLoan struct {
	Base
	TermID string    `json:"term"`
	Caller string    `json:"caller"`
	LoanID uuid.UUID `json:"loan_id"`
}

func (c *ForgiveLoan) CommandType() CommandType { return CommandTypeForgiveLoan }
func (c *ForgiveLoan) Term() *string            { return &c.TermID }

// DonateSurplus adds first-loss capital to the global buffer, or to one
// term's buffer when TermID is set.
type DonateSurplus struct {
	Base
	TermID string   `json:"term,omitempty"`
	From   string   `json:"from"`
	Amount *big.Int `json:"amount"`
}

func (c *DonateSurplus) CommandType() CommandType { return CommandTypeDonateSurplus }
func (c *DonateSurplus) Term() *string {
	if c.TermID == "" {
		return nil
	}
	return &c.TermID
}

// WithdrawSurplus removes capital from the global buffer. Role-gated.
type WithdrawSurplus struct {
	Base
	Caller string   `json:"caller"`
	To     string   `json:"to"`
	Amount *big.Int `json:"amount"`
}

func (c *WithdrawSurplus) CommandType() CommandType { return CommandTypeWithdrawSurplus }
func (c *WithdrawSurplus) Term() *string            { return nil }

// ClaimRewards realizes a staker's accrued share of a term's profit.
type ClaimRewards struct {
	Base
	TermID string `json:"term"`
	User   string `json:"user"`
}

func (c *ClaimRewards) CommandType() CommandType { return CommandTypeClaimRewards }
func (c *ClaimRewards) Term() *string            { return &c.TermID }

// MintCollateral credits collateral of a term to a holder, confirming a
// deposit from external custody. Role-gated.
type MintCollateral struct {
	Base
	TermID string   `json:"term"`
	Caller string   `json:"caller"`
	To     string   `json:"to"`
	Amount *big.Int `json:"amount"`
}

func (c *MintCollateral) CommandType() CommandType { return CommandTypeMintCollateral }
func (c *MintCollateral) Term() *string            { return &c.TermID }

// MintCredit issues credit tokens outside the borrow path, for funding
// bidders and repayers. Role-gated.
type MintCredit struct {
	Base
	Caller string   `json:"caller"`
	To     string   `json:"to"`
	Amount *big.Int `json:"amount"`
}

func (c *MintCredit) CommandType() CommandType { return CommandTypeMintCredit }
func (c *MintCredit) Term() *string            { return nil }

// ApproveCollateral sets the owner's collateral allowance on a term. An
// empty spender targets the term's book escrow.
type ApproveCollateral struct {
	Base
	TermID  string   `json:"term"`
	Owner   string   `json:"owner"`
	Spender string   `json:"spender,omitempty"`
	Amount  *big.Int `json:"amount"`
}

func (c *ApproveCollateral) CommandType() CommandType { return CommandTypeApproveCollateral }
func (c *ApproveCollateral) Term() *string            { return &c.TermID }

// ApproveCredit sets the owner's credit allowance for a spender, the
// book escrow for repayments or the auction engine for bids.
type ApproveCredit struct {
	Base
	Owner   string   `json:"owner"`
	Spender string   `json:"spender"`
	Amount  *big.Int `json:"amount"`
}

func (c *ApproveCredit) CommandType() CommandType { return CommandTypeApproveCredit }
func (c *ApproveCredit) Term() *string            { return nil }

// GaugeWeightUpdate carries a governance weight decision from the
// external gauge feed. Gaps in its source sequence are tolerated.
type GaugeWeightUpdate struct {
	Base
	TermID     string   `json:"term"`
	Weight     *big.Int `json:"weight"`
	Deprecated bool     `json:"deprecated"`
}

func (c *GaugeWeightUpdate) CommandType() CommandType { return CommandTypeGaugeWeightUpdate }
func (c *GaugeWeightUpdate) Term() *string            { return &c.TermID }

// GaugeStakeUpdate carries one staker's weight behind a term from the
// external gauge feed.
type GaugeStakeUpdate struct {
	Base
	TermID string   `json:"term"`
	Staker string   `json:"staker"`
	Weight *big.Int `json:"weight"`
}

func (c *GaugeStakeUpdate) CommandType() CommandType { return CommandTypeGaugeStakeUpdate }
func (c *GaugeStakeUpdate) Term() *string            { return &c.TermID }
