// Package auction converts seized collateral back into debt tokens
// through a two-phase Dutch auction and reports each settlement to the
// originating loan book. The engine owns auction records only; loan
// state is mutated exclusively through the book's settlement callback.
package auction

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CreditLedger/internal/fixed"
	"CreditLedger/internal/loanbook"
	"CreditLedger/internal/token"
)

var (
	ErrBadConfig           = errors.New("auction: midpoint must be positive and below duration")
	ErrUnknownBook         = errors.New("auction: caller is not a registered loan book")
	ErrAuctionExists       = errors.New("auction: auction already exists for loan")
	ErrAuctionNotFound     = errors.New("auction: auction not found")
	ErrAuctionEnded        = errors.New("auction: auction already ended")
	ErrStaleStart          = errors.New("auction: loan was not called in the current tick")
	ErrLoanAlreadyClosed   = errors.New("auction: loan already closed")
	ErrNoCollateralOffered = errors.New("auction: no collateral offered yet")
	ErrDebtStillAsked      = errors.New("auction: debt still asked, cannot forgive")
	ErrCreditUnavailable   = errors.New("auction: bidder credit transfer would fail")
)

// Config fixes the pricing curve shared by every auction the engine runs.
type Config struct {
	// MidPoint is the tick offset at which the first phase ends and the
	// full collateral goes on offer.
	MidPoint int64
	// Duration is the tick offset at which the asked debt reaches zero.
	Duration int64
}

func (c Config) Validate() error {
	if c.MidPoint <= 0 || c.Duration <= c.MidPoint {
		return ErrBadConfig
	}
	return nil
}

// Book is the slice of the loan book the engine depends on.
type Book interface {
	Term() string
	Account() token.Address
	AuctionLoan(id uuid.UUID) (loanbook.AuctionView, bool, error)
	OnBid(tick int64, caller token.Address, id uuid.UUID, bidder token.Address,
		collateralToBorrower, collateralToBidder, creditFromBidder *big.Int) error
}

// Auction is one auction record, immutable once EndTime is set. Records
// are never deleted.
type Auction struct {
	LoanID uuid.UUID
	Term   string
	Book   token.Address

	StartTime int64
	EndTime   int64

	CollateralAmount *big.Int
	CallDebt         *big.Int
	CallFeeEscrow    *big.Int
	DangerZone       bool

	Bidder         token.Address
	CollateralSold *big.Int
	DebtRecovered  *big.Int
}

func (a *Auction) snapshot() Auction {
	out := *a
	out.CollateralAmount = fixed.Clone(a.CollateralAmount)
	out.CallDebt = fixed.Clone(a.CallDebt)
	out.CallFeeEscrow = fixed.Clone(a.CallFeeEscrow)
	out.CollateralSold = fixed.Clone(a.CollateralSold)
	out.DebtRecovered = fixed.Clone(a.DebtRecovered)
	return out
}

// Engine runs every auction for the books registered with it. Not safe
// for concurrent use; driven exclusively by the sequential core.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	credit  *token.Token
	account token.Address

	books    map[token.Address]Book
	auctions map[uuid.UUID]*Auction
}

func NewEngine(cfg Config, credit *token.Token, account token.Address, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		log:      log.With().Str("component", "auction").Logger(),
		credit:   credit,
		account:  account,
		books:    make(map[token.Address]Book),
		auctions: make(map[uuid.UUID]*Auction),
	}, nil
}

// Account returns the engine's identity toward the books' settlement
// callbacks.
func (e *Engine) Account() token.Address { return e.account }

// RegisterBook authorizes a loan book to start auctions. Called once per
// book during wiring.
func (e *Engine) RegisterBook(b Book) {
	e.books[b.Account()] = b
}

// GetAuction returns a snapshot of the auction record.
func (e *Engine) GetAuction(id uuid.UUID) (Auction, error) {
	a, ok := e.auctions[id]
	if !ok {
		return Auction{}, ErrAuctionNotFound
	}
	return a.snapshot(), nil
}

// Auctions returns snapshots of every auction record, for projections.
func (e *Engine) Auctions() []Auction {
	out := make([]Auction, 0, len(e.auctions))
	for _, a := range e.auctions {
		out = append(out, a.snapshot())
	}
	return out
}

// StartAuction opens the auction for a loan called in the current tick.
// Only the book owning the loan may start it, and only once.
func (e *Engine) StartAuction(tick int64, caller token.Address, id uuid.UUID) error {
	book, ok := e.books[caller]
	if !ok {
		return ErrUnknownBook
	}
	if _, exists := e.auctions[id]; exists {
		return ErrAuctionExists
	}
	view, closed, err := book.AuctionLoan(id)
	if err != nil {
		return err
	}
	if closed {
		return ErrLoanAlreadyClosed
	}
	if view.CallTime != tick {
		return ErrStaleStart
	}

	e.auctions[id] = &Auction{
		LoanID:           id,
		Term:             book.Term(),
		Book:             caller,
		StartTime:        tick,
		CollateralAmount: view.CollateralAmount,
		CallDebt:         view.CallDebt,
		CallFeeEscrow:    view.CallFeeEscrow,
		DangerZone:       view.DangerZone,
	}
	e.log.Info().
		Stringer("loan", id).
		Str("term", book.Term()).
		Str("call_debt", view.CallDebt.String()).
		Msg("auction started")
	return nil
}

// GetBidDetail prices the auction at tick: the collateral a bidder would
// receive and the debt they would pay. Pure.
func (e *Engine) GetBidDetail(tick int64, id uuid.UUID) (*big.Int, *big.Int, error) {
	a, ok := e.auctions[id]
	if !ok {
		return nil, nil, ErrAuctionNotFound
	}
	if a.EndTime != 0 {
		return nil, nil, ErrAuctionEnded
	}
	collateral, debt := e.priceAt(a, tick)
	return collateral, debt, nil
}

// priceAt implements the two-phase curve. First phase: full debt asked
// (net of the call-fee discount for loans called while still above
// water), collateral offered ramps linearly from zero. Second phase: full
// collateral offered, debt asked descends linearly to zero. Afterwards
// the collateral is free; that never clears under sane incentives but
// must not fail.
func (e *Engine) priceAt(a *Auction, tick int64) (*big.Int, *big.Int) {
	elapsed := tick - a.StartTime
	switch {
	case elapsed < e.cfg.MidPoint:
		debt := fixed.Clone(a.CallDebt)
		if !a.DangerZone && fixed.IsPositive(a.CallFeeEscrow) {
			debt = fixed.ClampNonNegative(debt.Sub(debt, a.CallFeeEscrow))
		}
		collateral := new(big.Int)
		if elapsed > 0 {
			collateral = fixed.MulDivDown(a.CollateralAmount, big.NewInt(elapsed), big.NewInt(e.cfg.MidPoint))
		}
		return collateral, debt
	case elapsed < e.cfg.Duration:
		remaining := e.cfg.Duration - elapsed
		debt := fixed.MulDivDown(a.CallDebt, big.NewInt(remaining), big.NewInt(e.cfg.Duration-e.cfg.MidPoint))
		return fixed.Clone(a.CollateralAmount), debt
	default:
		return fixed.Clone(a.CollateralAmount), new(big.Int)
	}
}

// Bid settles the auction at the current price: the bidder pays the asked
// debt into the book account, takes the offered collateral, and the
// borrower gets the remainder. Ends the auction and invokes the book's
// settlement callback.
func (e *Engine) Bid(tick int64, bidder token.Address, id uuid.UUID) error {
	a, ok := e.auctions[id]
	if !ok {
		return ErrAuctionNotFound
	}
	if a.EndTime != 0 {
		return ErrAuctionEnded
	}
	book := e.books[a.Book]

	collateral, debt := e.priceAt(a, tick)
	if collateral.Sign() == 0 {
		return ErrNoCollateralOffered
	}
	if fixed.IsPositive(debt) {
		if e.credit.BalanceOf(bidder).Cmp(debt) < 0 ||
			e.credit.Allowance(bidder, e.account).Cmp(debt) < 0 {
			return fmt.Errorf("%w: need %s from %s", ErrCreditUnavailable, debt, bidder)
		}
	}

	a.EndTime = tick
	a.Bidder = bidder
	a.CollateralSold = collateral
	a.DebtRecovered = debt

	if fixed.IsPositive(debt) {
		if err := e.credit.TransferFrom(e.account, bidder, book.Account(), debt); err != nil {
			panic(fmt.Sprintf("FATAL: auction: bidder credit pull failed after pre-flight: %v", err))
		}
	}
	toBorrower := new(big.Int).Sub(a.CollateralAmount, collateral)
	if err := book.OnBid(tick, e.account, id, bidder, toBorrower, collateral, debt); err != nil {
		panic(fmt.Sprintf("FATAL: auction: settlement callback rejected for %s: %v", id, err))
	}

	e.log.Info().
		Stringer("loan", id).
		Str("bidder", string(bidder)).
		Str("collateral_sold", collateral.String()).
		Str("debt_recovered", debt.String()).
		Msg("auction settled by bid")
	return nil
}

// Forgive ends an auction that reached zero asked debt with an empty
// settlement: no collateral moves and the full principal is a loss.
// Anyone may trigger it.
func (e *Engine) Forgive(tick int64, id uuid.UUID) error {
	a, ok := e.auctions[id]
	if !ok {
		return ErrAuctionNotFound
	}
	if a.EndTime != 0 {
		return ErrAuctionEnded
	}
	_, debt := e.priceAt(a, tick)
	if debt.Sign() != 0 {
		return ErrDebtStillAsked
	}

	a.EndTime = tick
	a.CollateralSold = new(big.Int)
	a.DebtRecovered = new(big.Int)

	book := e.books[a.Book]
	zero := new(big.Int)
	if err := book.OnBid(tick, e.account, id, "", zero, zero, zero); err != nil {
		panic(fmt.Sprintf("FATAL: auction: forgive callback rejected for %s: %v", id, err))
	}
	e.log.Warn().Stringer("loan", id).Msg("auction forgiven with zero recovery")
	return nil
}

// MarkClosed voids an open auction whose loan was resolved outside the
// auction, such as a repayment inside the call grace window. Only the
// owning book may invoke it.
func (e *Engine) MarkClosed(tick int64, caller token.Address, id uuid.UUID) error {
	a, ok := e.auctions[id]
	if !ok {
		return ErrAuctionNotFound
	}
	if _, registered := e.books[caller]; !registered || a.Book != caller {
		return ErrUnknownBook
	}
	if a.EndTime != 0 {
		return ErrAuctionEnded
	}
	a.EndTime = tick
	a.CollateralSold = new(big.Int)
	a.DebtRecovered = new(big.Int)
	e.log.Info().Stringer("loan", id).Msg("auction voided")
	return nil
}
