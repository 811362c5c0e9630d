// Package loanbook owns the loan records for one market: opening,
// collateral top-up, partial and full repayment, calling, auction
// settlement and forgiveness. Defaults are delegated to the auction
// engine; every realized gain or loss is forwarded to the solvency
// ledger. One Book instance per lending term.
package loanbook

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CreditLedger/internal/fixed"
	"CreditLedger/internal/token"
)

var (
	ErrInvalidAmount          = errors.New("loanbook: amount must be positive")
	ErrLoanNotFound           = errors.New("loanbook: loan not found")
	ErrLoanExists             = errors.New("loanbook: loan already exists")
	ErrLoanClosed             = errors.New("loanbook: loan is closed")
	ErrLoanCalled             = errors.New("loanbook: loan is called")
	ErrLoanNotCalled          = errors.New("loanbook: loan is not called")
	ErrOpenedThisTick         = errors.New("loanbook: loan opened in the current tick")
	ErrInsufficientCollateral = errors.New("loanbook: insufficient collateral")
	ErrBelowMinimumBorrow     = errors.New("loanbook: below minimum borrow")
	ErrHardCapReached         = errors.New("loanbook: hard cap reached")
	ErrDebtCeilingReached     = errors.New("loanbook: debt ceiling reached")
	ErrTermDeprecated         = errors.New("loanbook: term deprecated")
	ErrTermInactive           = errors.New("loanbook: term has no gauge weight")
	ErrFullyMarkedDown        = errors.New("loanbook: debt fully marked down")
	ErrLoanNotCallable        = errors.New("loanbook: loan not callable")
	ErrRepayTooSmall          = errors.New("loanbook: repayment below periodic minimum")
	ErrRepayTooLarge          = errors.New("loanbook: partial repayment covers full debt")
	ErrCollateralUnavailable  = errors.New("loanbook: collateral transfer would fail")
	ErrCreditUnavailable      = errors.New("loanbook: credit transfer would fail")
	ErrUnauthorizedSettlement = errors.New("loanbook: settlement caller is not the auction engine")
	ErrForgiveDenied          = errors.New("loanbook: forgiveness denied")
)

// SolvencyLedger is the slice of the solvency core the book depends on.
type SolvencyLedger interface {
	DevaluationMultiplier() *big.Int
	MinBorrow() *big.Int
	TotalIssuance() *big.Int
	NotifyPnL(term string, amount, issuanceDelta *big.Int) error
	Account() token.Address
}

// GaugeOracle supplies governance weight decisions (external collaborator).
type GaugeOracle interface {
	GaugeAllocation(term string, hypotheticalTotal *big.Int) *big.Int
	IsActive(term string) bool
	IsDeprecated(term string) bool
}

// IssuanceMinter rate-limits debt token issuance (external collaborator).
type IssuanceMinter interface {
	Mint(tick int64, to token.Address, amount *big.Int) error
	Burn(tick int64, from token.Address, amount *big.Int) error
	Buffer(tick int64) *big.Int
}

// AuctionHouse is the narrow contract toward the auction engine.
type AuctionHouse interface {
	StartAuction(tick int64, caller token.Address, loanID uuid.UUID) error
	// MarkClosed stamps an open auction as ended without settlement, for
	// loans resolved outside the auction (grace repay, forgiveness).
	MarkClosed(tick int64, caller token.Address, loanID uuid.UUID) error
}

// Book is the loan lifecycle manager for one term. Not safe for
// concurrent use; driven exclusively by the sequential core.
type Book struct {
	params Params
	log    zerolog.Logger

	ledger     SolvencyLedger
	gauges     GaugeOracle
	minter     IssuanceMinter
	credit     *token.Token
	collateral CollateralStrategy
	accrual    AccrualStrategy
	forgive    ForgivePolicy
	auctions   AuctionHouse

	// account is the book's escrow identity on both tokens.
	account     token.Address
	auctionAddr token.Address

	namespace uuid.UUID
	loans     map[uuid.UUID]*Loan
	issuance  *big.Int
}

// Deps bundles the book's collaborators.
type Deps struct {
	Ledger     SolvencyLedger
	Gauges     GaugeOracle
	Minter     IssuanceMinter
	Credit     *token.Token
	Collateral CollateralStrategy
	Accrual    AccrualStrategy
	Forgive    ForgivePolicy
	Logger     zerolog.Logger
}

// NewBook validates params once and returns a ready book. The auction
// engine is wired afterwards via SetAuctionHouse (the engine needs the
// book reference too).
func NewBook(params Params, deps Deps) (*Book, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if deps.Accrual == nil {
		deps.Accrual = LinearAccrual{}
	}
	if deps.Forgive == nil {
		deps.Forgive = GovernedForgive{}
	}
	return &Book{
		params:     params,
		log:        deps.Logger.With().Str("term", params.Term).Logger(),
		ledger:     deps.Ledger,
		gauges:     deps.Gauges,
		minter:     deps.Minter,
		credit:     deps.Credit,
		collateral: deps.Collateral,
		accrual:    deps.Accrual,
		forgive:    deps.Forgive,
		account:    token.Address("loanbook:" + params.Term),
		namespace:  uuid.NewSHA1(uuid.NameSpaceURL, []byte("creditledger/term/"+params.Term)),
		loans:      make(map[uuid.UUID]*Loan),
		issuance:   new(big.Int),
	}, nil
}

// SetAuctionHouse registers the engine allowed to settle this book's
// defaulted loans. Called once during wiring.
func (b *Book) SetAuctionHouse(a AuctionHouse, addr token.Address) {
	b.auctions = a
	b.auctionAddr = addr
}

// Term returns the book's term identifier.
func (b *Book) Term() string { return b.params.Term }

// Params returns a copy of the book's immutable terms.
func (b *Book) Params() Params { return b.params }

// Account returns the book's escrow address.
func (b *Book) Account() token.Address { return b.account }

// Issuance returns the book's outstanding principal, in open-multiplier
// adjusted units.
func (b *Book) Issuance() *big.Int { return fixed.Clone(b.issuance) }

// LoanID derives the deterministic id for a loan opened by borrower at
// tick. One borrower gets at most one loan per term per tick.
func (b *Book) LoanID(borrower token.Address, tick int64) uuid.UUID {
	buf := make([]byte, 0, len(borrower)+8)
	buf = append(buf, []byte(borrower)...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(tick))
	return uuid.NewSHA1(b.namespace, buf)
}

// GetLoan returns a snapshot of the loan record.
func (b *Book) GetLoan(id uuid.UUID) (Loan, error) {
	loan, ok := b.loans[id]
	if !ok {
		return Loan{}, ErrLoanNotFound
	}
	return loan.snapshot(), nil
}

// Loans returns snapshots of every loan record, for projections and
// invariant sweeps.
func (b *Book) Loans() []Loan {
	out := make([]Loan, 0, len(b.loans))
	for _, loan := range b.loans {
		out = append(out, loan.snapshot())
	}
	return out
}

// GetLoanDebt computes the loan's current nominal debt at tick. Pure; a
// called loan returns its frozen call debt.
func (b *Book) GetLoanDebt(tick int64, id uuid.UUID) (*big.Int, error) {
	loan, ok := b.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	return b.debt(loan, tick), nil
}

func (b *Book) debt(loan *Loan, tick int64) *big.Int {
	if loan.CallTime != 0 {
		return fixed.Clone(loan.CallDebt)
	}
	elapsed := tick - loan.OpenTime
	owed := new(big.Int).Add(loan.BorrowAmount, b.accrual.Interest(&b.params, loan.BorrowAmount, elapsed))
	return b.rescale(owed, loan.OpenMultiplier)
}

// rescale converts open-multiplier units to current nominal units: a
// markdown inflates the nominal debt so its real value stays constant.
func (b *Book) rescale(amount, openMultiplier *big.Int) *big.Int {
	cur := b.ledger.DevaluationMultiplier()
	if cur.Sign() == 0 {
		cur = big.NewInt(1)
	}
	return fixed.MulDivUp(amount, openMultiplier, cur)
}

func (b *Book) principalNominal(loan *Loan) *big.Int {
	return b.rescale(loan.BorrowAmount, loan.OpenMultiplier)
}

// Borrow opens a loan: records it with a multiplier snapshot, raises
// issuance, mints the borrowed amount through the rate limiter and pulls
// collateral from the borrower. Every precondition is checked before the
// first state mutation, so a failure leaves no partial state.
func (b *Book) Borrow(tick int64, borrower token.Address, borrowAmount, collateralAmount *big.Int) (uuid.UUID, error) {
	if !fixed.IsPositive(borrowAmount) || !fixed.IsPositive(collateralAmount) {
		return uuid.Nil, ErrInvalidAmount
	}
	if b.gauges.IsDeprecated(b.params.Term) {
		return uuid.Nil, ErrTermDeprecated
	}
	if !b.gauges.IsActive(b.params.Term) {
		return uuid.Nil, ErrTermInactive
	}
	mult := b.ledger.DevaluationMultiplier()
	if mult.Sign() == 0 {
		return uuid.Nil, ErrFullyMarkedDown
	}

	maxBorrow := fixed.MulDivDown(collateralAmount, b.params.MaxDebtPerCollateralWad, mult)
	if borrowAmount.Cmp(maxBorrow) > 0 {
		return uuid.Nil, fmt.Errorf("%w: borrow %s exceeds max %s", ErrInsufficientCollateral, borrowAmount, maxBorrow)
	}
	if borrowAmount.Cmp(b.ledger.MinBorrow()) < 0 {
		return uuid.Nil, ErrBelowMinimumBorrow
	}

	newIssuance := new(big.Int).Add(b.issuance, borrowAmount)
	if fixed.IsPositive(b.params.HardCap) && newIssuance.Cmp(b.params.HardCap) > 0 {
		return uuid.Nil, ErrHardCapReached
	}
	hypothetical := new(big.Int).Add(b.ledger.TotalIssuance(), borrowAmount)
	ceiling := fixed.WadMul(b.gauges.GaugeAllocation(b.params.Term, hypothetical), b.params.gaugeTolerance())
	if newIssuance.Cmp(ceiling) > 0 {
		return uuid.Nil, fmt.Errorf("%w: issuance %s exceeds ceiling %s", ErrDebtCeilingReached, newIssuance, ceiling)
	}

	id := b.LoanID(borrower, tick)
	if _, exists := b.loans[id]; exists {
		return uuid.Nil, ErrLoanExists
	}

	// Pre-flight the external moves so the effects below cannot fail.
	if b.minter.Buffer(tick).Cmp(borrowAmount) < 0 {
		return uuid.Nil, token.ErrBufferExhausted
	}
	if !b.collateral.CanPull(borrower, collateralAmount) {
		return uuid.Nil, ErrCollateralUnavailable
	}

	if err := b.ledger.NotifyPnL(b.params.Term, nil, borrowAmount); err != nil {
		return uuid.Nil, err
	}

	b.loans[id] = &Loan{
		ID:               id,
		Borrower:         borrower,
		CollateralAmount: fixed.Clone(collateralAmount),
		BorrowAmount:     fixed.Clone(borrowAmount),
		OpenMultiplier:   mult,
		OpenTime:         tick,
		LastPartialRepay: tick,
	}
	b.issuance = newIssuance

	if err := b.minter.Mint(tick, borrower, borrowAmount); err != nil {
		panic(fmt.Sprintf("FATAL: loanbook: mint failed after pre-flight: %v", err))
	}
	if err := b.collateral.PullFrom(borrower, collateralAmount); err != nil {
		panic(fmt.Sprintf("FATAL: loanbook: collateral pull failed after pre-flight: %v", err))
	}

	b.log.Info().
		Stringer("loan", id).
		Str("borrower", string(borrower)).
		Str("borrow", borrowAmount.String()).
		Str("collateral", collateralAmount.String()).
		Msg("loan opened")
	return id, nil
}

// AddCollateral tops an open loan up. Anyone may add on a borrower's
// behalf.
func (b *Book) AddCollateral(tick int64, from token.Address, id uuid.UUID, amount *big.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrInvalidAmount
	}
	loan, err := b.openLoan(id)
	if err != nil {
		return err
	}
	if !b.collateral.CanPull(from, amount) {
		return ErrCollateralUnavailable
	}
	if err := b.collateral.PullFrom(from, amount); err != nil {
		panic(fmt.Sprintf("FATAL: loanbook: collateral pull failed after pre-flight: %v", err))
	}
	loan.CollateralAmount = new(big.Int).Add(loan.CollateralAmount, amount)
	b.log.Debug().Stringer("loan", id).Int64("tick", tick).Str("added", amount.String()).Msg("collateral added")
	return nil
}

// PartialRepay repays part of a loan's debt, splitting the payment
// between principal (burned) and interest (forwarded as profit) pro-rata,
// and re-validates the minimum borrow floor on the remainder.
func (b *Book) PartialRepay(tick int64, payer token.Address, id uuid.UUID, debtToRepay *big.Int) error {
	if !fixed.IsPositive(debtToRepay) {
		return ErrInvalidAmount
	}
	loan, err := b.openLoan(id)
	if err != nil {
		return err
	}
	if loan.OpenTime == tick {
		return ErrOpenedThisTick
	}

	loanDebt := b.debt(loan, tick)
	if debtToRepay.Cmp(loanDebt) >= 0 {
		return ErrRepayTooLarge
	}
	percent := fixed.WadDiv(debtToRepay, loanDebt)
	if percent.Sign() == 0 {
		return ErrInvalidAmount
	}
	if fixed.IsPositive(b.params.MinPartialRepayPercentWad) && percent.Cmp(b.params.MinPartialRepayPercentWad) < 0 {
		return ErrRepayTooSmall
	}

	principalRepaid := fixed.WadMul(loan.BorrowAmount, percent) // open units
	principalNominal := fixed.WadMul(b.principalNominal(loan), percent)
	interest := fixed.ClampNonNegative(new(big.Int).Sub(debtToRepay, principalNominal))

	remaining := new(big.Int).Sub(loan.BorrowAmount, principalRepaid)
	if remaining.Sign() == 0 {
		return ErrRepayTooLarge
	}
	if remaining.Cmp(b.ledger.MinBorrow()) < 0 {
		return ErrBelowMinimumBorrow
	}

	if err := b.pullCredit(payer, debtToRepay); err != nil {
		return err
	}
	b.burnAndForward(tick, principalNominal, interest)

	loan.BorrowAmount = remaining
	loan.LastPartialRepay = tick
	b.issuance = new(big.Int).Sub(b.issuance, principalRepaid)
	b.notifyPnL(interest, new(big.Int).Neg(principalRepaid))
	return nil
}

// Repay settles the full debt and closes the loan. A called loan may
// still be repaid inside the call grace period; the escrowed call fee is
// then netted against the debt and the pending auction is voided.
func (b *Book) Repay(tick int64, payer token.Address, id uuid.UUID) error {
	loan, ok := b.loans[id]
	if !ok {
		return ErrLoanNotFound
	}
	if loan.CloseTime != 0 {
		return ErrLoanClosed
	}
	if loan.OpenTime == tick {
		return ErrOpenedThisTick
	}
	called := loan.CallTime != 0
	if called && b.params.CallPeriod > 0 && tick > loan.CallTime+b.params.CallPeriod {
		return ErrLoanCalled
	}
	if called && b.params.CallPeriod == 0 {
		return ErrLoanCalled
	}

	loanDebt := b.debt(loan, tick)
	principalNominal := b.principalNominal(loan)
	interest := fixed.ClampNonNegative(new(big.Int).Sub(loanDebt, principalNominal))

	// Inside the grace window the caller's escrowed fee counts toward the
	// debt; the caller forfeits it for calling a loan that still paid.
	owed := fixed.Clone(loanDebt)
	if called && fixed.IsPositive(loan.CallFeeEscrow) {
		owed.Sub(owed, fixed.Min(loan.CallFeeEscrow, owed))
	}

	if fixed.IsPositive(owed) {
		if err := b.pullCredit(payer, owed); err != nil {
			return err
		}
	}
	b.burnAndForward(tick, principalNominal, interest)

	loan.CloseTime = tick
	b.issuance = new(big.Int).Sub(b.issuance, loan.BorrowAmount)
	b.notifyPnL(interest, new(big.Int).Neg(loan.BorrowAmount))

	if called {
		if err := b.auctions.MarkClosed(tick, b.account, id); err != nil {
			panic(fmt.Sprintf("FATAL: loanbook: voiding auction for repaid loan %s: %v", id, err))
		}
	}
	if err := b.collateral.PushTo(loan.Borrower, loan.CollateralAmount); err != nil {
		panic(fmt.Sprintf("FATAL: loanbook: collateral return failed: %v", err))
	}
	b.log.Info().Stringer("loan", id).Str("debt", loanDebt.String()).Msg("loan repaid")
	return nil
}

// Call forces a loan into liquidation. Callable only when the term is
// deprecated, the loan breached its collateral ratio, or a periodic
// partial repayment was missed. Freezes the debt and starts the auction.
func (b *Book) Call(tick int64, caller token.Address, id uuid.UUID) error {
	loan, err := b.openLoan(id)
	if err != nil {
		return err
	}
	if loan.OpenTime == tick {
		return ErrOpenedThisTick
	}

	debt := b.debt(loan, tick)
	mult := b.ledger.DevaluationMultiplier()
	if mult.Sign() == 0 {
		mult = big.NewInt(1)
	}
	maxDebt := fixed.MulDivDown(loan.CollateralAmount, b.params.MaxDebtPerCollateralWad, mult)

	deprecated := b.gauges.IsDeprecated(b.params.Term)
	breached := debt.Cmp(maxDebt) > 0
	missed := b.params.MaxDelayBetweenPartialRepay > 0 &&
		tick > loan.LastPartialRepay+b.params.MaxDelayBetweenPartialRepay
	if !deprecated && !breached && !missed {
		return ErrLoanNotCallable
	}

	fee := new(big.Int)
	if fixed.IsPositive(b.params.CallFeeWad) {
		fee = fixed.WadMul(debt, b.params.CallFeeWad)
	}
	if fixed.IsPositive(fee) {
		if err := b.pullCredit(caller, fee); err != nil {
			return err
		}
	}

	loan.Caller = caller
	loan.CallTime = tick
	loan.CallDebt = debt
	loan.CallFeeEscrow = fee
	// Above the buffered threshold the borrower was genuinely underwater;
	// the caller then gets their fee back at settlement.
	loan.DangerZone = debt.Cmp(fixed.WadMul(maxDebt, b.params.ltvBuffer())) > 0

	if err := b.auctions.StartAuction(tick, b.account, id); err != nil {
		panic(fmt.Sprintf("FATAL: loanbook: auction start for called loan %s: %v", id, err))
	}
	b.log.Info().
		Stringer("loan", id).
		Str("caller", string(caller)).
		Str("call_debt", debt.String()).
		Bool("danger_zone", loan.DangerZone).
		Msg("loan called")
	return nil
}

// OnBid is the settlement callback. Only the registered auction engine
// may invoke it, once, for a called and still-open loan. The engine has
// already moved creditFromBidder into the book account; collateral splits
// are executed here. Non-conserving collateral splits are fatal.
func (b *Book) OnBid(tick int64, caller token.Address, id uuid.UUID, bidder token.Address, collateralToBorrower, collateralToBidder, creditFromBidder *big.Int) error {
	if caller != b.auctionAddr {
		return ErrUnauthorizedSettlement
	}
	loan, ok := b.loans[id]
	if !ok {
		return ErrLoanNotFound
	}
	if loan.CloseTime != 0 {
		return ErrLoanClosed
	}
	if loan.CallTime == 0 {
		return ErrLoanNotCalled
	}

	collateralOut := new(big.Int).Add(collateralToBorrower, collateralToBidder)
	if collateralOut.Sign() != 0 && collateralOut.Cmp(loan.CollateralAmount) != 0 {
		panic(fmt.Sprintf("FATAL: loanbook: settlement collateral not conserved for %s: %s+%s != %s",
			id, collateralToBorrower, collateralToBidder, loan.CollateralAmount))
	}

	// The engine prices its first phase with the call fee discounted, so
	// the forfeited escrow joins the bidder's credit in the recovery. A
	// danger-zone call earns the caller their fee back instead.
	recovery := fixed.Clone(creditFromBidder)
	if loan.DangerZone {
		if fixed.IsPositive(loan.CallFeeEscrow) {
			if err := b.credit.Transfer(b.account, loan.Caller, loan.CallFeeEscrow); err != nil {
				panic(fmt.Sprintf("FATAL: loanbook: call fee refund: %v", err))
			}
		}
	} else {
		recovery.Add(recovery, loan.CallFeeEscrow)
	}

	principalNominal := b.principalNominal(loan)
	pnl := new(big.Int).Sub(recovery, principalNominal)
	recovered := fixed.Min(recovery, principalNominal)
	interest := fixed.ClampNonNegative(pnl)

	b.burnAndForward(tick, recovered, interest)

	loan.CloseTime = tick
	b.issuance = new(big.Int).Sub(b.issuance, loan.BorrowAmount)
	b.notifyPnL(pnl, new(big.Int).Neg(loan.BorrowAmount))

	if fixed.IsPositive(collateralToBidder) {
		if err := b.collateral.PushTo(bidder, collateralToBidder); err != nil {
			panic(fmt.Sprintf("FATAL: loanbook: collateral to bidder: %v", err))
		}
	}
	if fixed.IsPositive(collateralToBorrower) {
		if err := b.collateral.PushTo(loan.Borrower, collateralToBorrower); err != nil {
			panic(fmt.Sprintf("FATAL: loanbook: collateral to borrower: %v", err))
		}
	}

	b.log.Info().
		Stringer("loan", id).
		Str("bidder", string(bidder)).
		Str("credit_recovered", creditFromBidder.String()).
		Str("pnl", pnl.String()).
		Msg("auction settled")
	return nil
}

// Forgive writes a loan off without moving collateral, for collateral
// frozen beyond the system's reach. The full principal is a loss.
func (b *Book) Forgive(tick int64, hasGovernorRole bool, id uuid.UUID) error {
	loan, ok := b.loans[id]
	if !ok {
		return ErrLoanNotFound
	}
	if loan.CloseTime != 0 {
		return ErrLoanClosed
	}
	if !b.forgive.CanForgive(hasGovernorRole, b.gauges.IsDeprecated(b.params.Term)) {
		return ErrForgiveDenied
	}

	principalNominal := b.principalNominal(loan)
	called := loan.CallTime != 0

	loan.CloseTime = tick
	b.issuance = new(big.Int).Sub(b.issuance, loan.BorrowAmount)
	b.notifyPnL(new(big.Int).Neg(principalNominal), new(big.Int).Neg(loan.BorrowAmount))

	if called {
		// The caller was right: return the escrowed fee before voiding
		// the auction.
		if fixed.IsPositive(loan.CallFeeEscrow) {
			if err := b.credit.Transfer(b.account, loan.Caller, loan.CallFeeEscrow); err != nil {
				panic(fmt.Sprintf("FATAL: loanbook: call fee refund: %v", err))
			}
		}
		if err := b.auctions.MarkClosed(tick, b.account, id); err != nil {
			panic(fmt.Sprintf("FATAL: loanbook: voiding auction for forgiven loan %s: %v", id, err))
		}
	}
	b.log.Warn().Stringer("loan", id).Str("loss", principalNominal.String()).Msg("loan forgiven")
	return nil
}

// AuctionLoan exposes the read-only loan data the auction engine prices
// against. The second return reports whether the loan is already closed.
func (b *Book) AuctionLoan(id uuid.UUID) (AuctionView, bool, error) {
	loan, ok := b.loans[id]
	if !ok {
		return AuctionView{}, false, ErrLoanNotFound
	}
	return AuctionView{
		LoanID:           loan.ID,
		Borrower:         loan.Borrower,
		Caller:           loan.Caller,
		CollateralAmount: fixed.Clone(loan.CollateralAmount),
		CallDebt:         fixed.Clone(loan.CallDebt),
		CallFeeEscrow:    fixed.Clone(loan.CallFeeEscrow),
		CallTime:         loan.CallTime,
		DangerZone:       loan.DangerZone,
	}, loan.CloseTime != 0, nil
}

// CheckInvariants asserts issuance == sum of open loans' principal.
func (b *Book) CheckInvariants() error {
	sum := new(big.Int)
	for _, loan := range b.loans {
		if loan.CloseTime == 0 {
			sum.Add(sum, loan.BorrowAmount)
		}
	}
	if sum.Cmp(b.issuance) != 0 {
		return fmt.Errorf("loanbook %s: issuance %s != open principal %s", b.params.Term, b.issuance, sum)
	}
	return nil
}

func (b *Book) openLoan(id uuid.UUID) (*Loan, error) {
	loan, ok := b.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.CloseTime != 0 {
		return nil, ErrLoanClosed
	}
	if loan.CallTime != 0 {
		return nil, ErrLoanCalled
	}
	return loan, nil
}

// pullCredit validates and executes a debt-token pull into the book
// account. The allowance check runs before the transfer so a failed pull
// cannot leave earlier effects behind.
func (b *Book) pullCredit(from token.Address, amount *big.Int) error {
	if b.credit.BalanceOf(from).Cmp(amount) < 0 ||
		b.credit.Allowance(from, b.account).Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s from %s", ErrCreditUnavailable, amount, from)
	}
	if err := b.credit.TransferFrom(b.account, from, b.account, amount); err != nil {
		panic(fmt.Sprintf("FATAL: loanbook: credit pull failed after pre-flight: %v", err))
	}
	return nil
}

// burnAndForward burns the recovered principal and forwards interest to
// the solvency ledger account, both out of the book account.
func (b *Book) burnAndForward(tick int64, principal, interest *big.Int) {
	if fixed.IsPositive(principal) {
		if err := b.minter.Burn(tick, b.account, principal); err != nil {
			panic(fmt.Sprintf("FATAL: loanbook: principal burn: %v", err))
		}
	}
	if fixed.IsPositive(interest) {
		if err := b.credit.Transfer(b.account, b.ledger.Account(), interest); err != nil {
			panic(fmt.Sprintf("FATAL: loanbook: interest forward: %v", err))
		}
	}
}

func (b *Book) notifyPnL(amount, issuanceDelta *big.Int) {
	if err := b.ledger.NotifyPnL(b.params.Term, amount, issuanceDelta); err != nil {
		// Only issuance increases can be rejected; decreases and P&L
		// notifications must always land.
		panic(fmt.Sprintf("FATAL: loanbook: solvency notification rejected: %v", err))
	}
}
