package loanbook

import (
	"math/big"

	"github.com/google/uuid"

	"CreditLedger/internal/fixed"
	"CreditLedger/internal/token"
)

// Status is derived from a loan's timestamps, never stored.
type Status int32

const (
	StatusOpen Status = iota
	StatusCalled
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusCalled:
		return "Called"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Loan is one loan record. Created once, mutated a bounded number of
// times, immutable after CloseTime is set. Records are never deleted.
type Loan struct {
	ID       uuid.UUID
	Borrower token.Address

	CollateralAmount *big.Int
	BorrowAmount     *big.Int // principal, in open-multiplier units
	OpenMultiplier   *big.Int
	OpenTime         int64
	LastPartialRepay int64

	Caller        token.Address
	CallTime      int64
	CallDebt      *big.Int // nominal debt frozen at call
	CallFeeEscrow *big.Int
	DangerZone    bool // breached the buffered LTV threshold at call

	CloseTime int64
}

// Status derives the lifecycle state: closeTime set is terminal, callTime
// set without closeTime is auctioning, otherwise open.
func (l *Loan) Status() Status {
	switch {
	case l.CloseTime != 0:
		return StatusClosed
	case l.CallTime != 0:
		return StatusCalled
	default:
		return StatusOpen
	}
}

func (l *Loan) snapshot() Loan {
	out := *l
	out.CollateralAmount = fixed.Clone(l.CollateralAmount)
	out.BorrowAmount = fixed.Clone(l.BorrowAmount)
	out.OpenMultiplier = fixed.Clone(l.OpenMultiplier)
	out.CallDebt = fixed.Clone(l.CallDebt)
	out.CallFeeEscrow = fixed.Clone(l.CallFeeEscrow)
	return out
}

// AuctionView is the read-only slice of loan state the auction engine is
// allowed to see. The engine never touches the loan record itself.
type AuctionView struct {
	LoanID           uuid.UUID
	Borrower         token.Address
	Caller           token.Address
	CollateralAmount *big.Int
	CallDebt         *big.Int
	CallFeeEscrow    *big.Int
	CallTime         int64
	DangerZone       bool
}
