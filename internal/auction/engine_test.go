package auction

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CreditLedger/internal/fixed"
	"CreditLedger/internal/gauge"
	"CreditLedger/internal/loanbook"
	"CreditLedger/internal/solvency"
	"CreditLedger/internal/token"
)

const (
	borrower = token.Address("alice")
	caller   = token.Address("bob")
	bidder   = token.Address("carol")
)

var testConfig = Config{MidPoint: 650, Duration: 1800}

type stubBook struct {
	term    string
	account token.Address
	view    loanbook.AuctionView
	closed  bool
}

func (s *stubBook) Term() string           { return s.term }
func (s *stubBook) Account() token.Address { return s.account }
func (s *stubBook) AuctionLoan(uuid.UUID) (loanbook.AuctionView, bool, error) {
	return s.view, s.closed, nil
}
func (s *stubBook) OnBid(int64, token.Address, uuid.UUID, token.Address, *big.Int, *big.Int, *big.Int) error {
	return nil
}

func newStubEngine(t *testing.T, view loanbook.AuctionView) (*Engine, *stubBook) {
	t.Helper()
	e, err := NewEngine(testConfig, token.New("CREDIT"), token.Address("auction-engine"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	book := &stubBook{term: "usdc-1", account: token.Address("loanbook:usdc-1"), view: view}
	e.RegisterBook(book)
	return e, book
}

func plainView(id uuid.UUID, callTick int64) loanbook.AuctionView {
	return loanbook.AuctionView{
		LoanID:           id,
		Borrower:         borrower,
		CollateralAmount: big.NewInt(100),
		CallDebt:         big.NewInt(100),
		CallFeeEscrow:    new(big.Int),
		CallTime:         callTick,
	}
}

func wantBig(t *testing.T, what string, got *big.Int, want int64) {
	t.Helper()
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s = %s, want %d", what, got, want)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, cfg := range []Config{{0, 1800}, {650, 650}, {650, 100}, {-1, 1800}} {
		if err := cfg.Validate(); !errors.Is(err, ErrBadConfig) {
			t.Fatalf("Validate(%+v) = %v, want ErrBadConfig", cfg, err)
		}
	}
	if err := testConfig.Validate(); err != nil {
		t.Fatalf("Validate(%+v) = %v", testConfig, err)
	}
}

func TestStartAuctionValidation(t *testing.T) {
	id := uuid.New()
	e, book := newStubEngine(t, plainView(id, 10))

	if err := e.StartAuction(10, token.Address("mallory"), id); !errors.Is(err, ErrUnknownBook) {
		t.Fatalf("unregistered caller err = %v, want ErrUnknownBook", err)
	}
	if err := e.StartAuction(11, book.account, id); !errors.Is(err, ErrStaleStart) {
		t.Fatalf("stale start err = %v, want ErrStaleStart", err)
	}
	book.closed = true
	if err := e.StartAuction(10, book.account, id); !errors.Is(err, ErrLoanAlreadyClosed) {
		t.Fatalf("closed loan err = %v, want ErrLoanAlreadyClosed", err)
	}
	book.closed = false
	if err := e.StartAuction(10, book.account, id); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	if err := e.StartAuction(10, book.account, id); !errors.Is(err, ErrAuctionExists) {
		t.Fatalf("duplicate start err = %v, want ErrAuctionExists", err)
	}
}

func TestPricingCurve(t *testing.T) {
	id := uuid.New()
	e, book := newStubEngine(t, plainView(id, 10))
	if err := e.StartAuction(10, book.account, id); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}

	cases := []struct {
		elapsed          int64
		collateral, debt int64
	}{
		{0, 0, 100},
		{325, 50, 100},  // half of phase one
		{650, 100, 100}, // phase two boundary
		{1000, 100, 69}, // 100 * 800/1150, floored
		{1799, 100, 0},  // 100 * 1/1150, floored
		{1800, 100, 0},  // phase three
		{5000, 100, 0},
	}
	for _, tc := range cases {
		collateral, debt, err := e.GetBidDetail(10+tc.elapsed, id)
		if err != nil {
			t.Fatalf("GetBidDetail(+%d): %v", tc.elapsed, err)
		}
		wantBig(t, "collateral offered", collateral, tc.collateral)
		wantBig(t, "debt asked", debt, tc.debt)

		// Pure: a second read yields the same numbers.
		collateral2, debt2, _ := e.GetBidDetail(10+tc.elapsed, id)
		if collateral.Cmp(collateral2) != 0 || debt.Cmp(debt2) != 0 {
			t.Fatalf("GetBidDetail(+%d) not pure", tc.elapsed)
		}
	}
}

func TestPricingMonotonic(t *testing.T) {
	id := uuid.New()
	e, book := newStubEngine(t, plainView(id, 0))
	if err := e.StartAuction(0, book.account, id); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}

	prevCollateral, prevDebt, _ := e.GetBidDetail(0, id)
	for tick := int64(1); tick <= 2000; tick++ {
		collateral, debt, err := e.GetBidDetail(tick, id)
		if err != nil {
			t.Fatalf("GetBidDetail(%d): %v", tick, err)
		}
		if collateral.Cmp(prevCollateral) < 0 {
			t.Fatalf("collateral offered decreased at tick %d: %s -> %s", tick, prevCollateral, collateral)
		}
		if debt.Cmp(prevDebt) > 0 {
			t.Fatalf("debt asked increased at tick %d: %s -> %s", tick, prevDebt, debt)
		}
		prevCollateral, prevDebt = collateral, debt
	}
	wantBig(t, "final collateral", prevCollateral, 100)
	wantBig(t, "final debt", prevDebt, 0)
}

func TestCallFeeDiscountInPhaseOne(t *testing.T) {
	id := uuid.New()
	view := plainView(id, 10)
	view.CallFeeEscrow = big.NewInt(10)
	e, book := newStubEngine(t, view)
	if err := e.StartAuction(10, book.account, id); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}

	_, debt, _ := e.GetBidDetail(110, id)
	wantBig(t, "discounted phase-one debt", debt, 90)
	// The discount ends with phase one.
	_, debt, _ = e.GetBidDetail(10+650, id)
	wantBig(t, "phase-two debt", debt, 100)
}

func TestNoDiscountForDangerZone(t *testing.T) {
	id := uuid.New()
	view := plainView(id, 10)
	view.CallFeeEscrow = big.NewInt(10)
	view.DangerZone = true
	e, book := newStubEngine(t, view)
	if err := e.StartAuction(10, book.account, id); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	_, debt, _ := e.GetBidDetail(110, id)
	wantBig(t, "phase-one debt", debt, 100)
}

// wired is the full stack: real book, ledger, tokens and engine.
type wired struct {
	credit     *token.Token
	collateral *token.Token
	gauges     *gauge.Oracle
	ledger     *solvency.Ledger
	book       *loanbook.Book
	engine     *Engine
}

func newWired(t *testing.T) *wired {
	t.Helper()
	credit := token.New("CREDIT")
	collateral := token.New("COLL")
	gauges := gauge.NewOracle()
	gauges.SetWeight("usdc-1", big.NewInt(1))

	ledger, err := solvency.NewLedger(solvency.Config{
		SurplusSplitWad: fixed.Clone(fixed.Wad),
		MinBorrowReal:   big.NewInt(100),
	}, credit, gauges, token.Address("solvency-ledger"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	minter := token.NewRateLimitedMinter(credit, big.NewInt(1_000_000), big.NewInt(1_000))

	book, err := loanbook.NewBook(loanbook.Params{
		Term:                    "usdc-1",
		MaxDebtPerCollateralWad: fixed.MulDivDown(fixed.Wad, big.NewInt(2), big.NewInt(1)),
	}, loanbook.Deps{
		Ledger: ledger,
		Gauges: gauges,
		Minter: minter,
		Credit: credit,
		Collateral: loanbook.DirectCollateral{
			Token:  collateral,
			Escrow: token.Address("loanbook:usdc-1"),
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewBook: %v", err)
	}
	engine, err := NewEngine(testConfig, credit, token.Address("auction-engine"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	book.SetAuctionHouse(engine, engine.Account())
	engine.RegisterBook(book)

	return &wired{credit: credit, collateral: collateral, gauges: gauges, ledger: ledger, book: book, engine: engine}
}

// openAndCall opens a 1000/1000 loan at tick 100 and calls it at tick 200
// by deprecating the term.
func (w *wired) openAndCall(t *testing.T) uuid.UUID {
	t.Helper()
	if err := w.collateral.Mint(borrower, big.NewInt(1000)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	w.collateral.Approve(borrower, w.book.Account(), big.NewInt(1000))
	id, err := w.book.Borrow(100, borrower, big.NewInt(1000), big.NewInt(1000))
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	w.gauges.SetDeprecated("usdc-1", true)
	if err := w.book.Call(200, caller, id); err != nil {
		t.Fatalf("Call: %v", err)
	}
	return id
}

func (w *wired) fundBidder(t *testing.T, amount int64) {
	t.Helper()
	if err := w.credit.Mint(bidder, big.NewInt(amount)); err != nil {
		t.Fatalf("mint credit: %v", err)
	}
	w.credit.Approve(bidder, w.engine.Account(), big.NewInt(amount))
}

func TestBidInPhaseOneSettles(t *testing.T) {
	w := newWired(t)
	id := w.openAndCall(t)

	// Half of phase one: 500 of 1000 collateral for the full 1000 debt.
	w.fundBidder(t, 1000)
	if err := w.engine.Bid(200+325, bidder, id); err != nil {
		t.Fatalf("Bid: %v", err)
	}

	a, err := w.engine.GetAuction(id)
	if err != nil {
		t.Fatalf("GetAuction: %v", err)
	}
	if a.EndTime != 200+325 {
		t.Fatalf("end time = %d, want %d", a.EndTime, 200+325)
	}
	wantBig(t, "collateral sold", a.CollateralSold, 500)
	wantBig(t, "debt recovered", a.DebtRecovered, 1000)
	wantBig(t, "bidder collateral", w.collateral.BalanceOf(bidder), 500)
	wantBig(t, "borrower collateral", w.collateral.BalanceOf(borrower), 500)
	wantBig(t, "bidder credit", w.credit.BalanceOf(bidder), 0)
	wantBig(t, "book issuance", w.book.Issuance(), 0)
	if w.ledger.DevaluationMultiplier().Cmp(fixed.Wad) != 0 {
		t.Fatalf("multiplier moved on full recovery: %s", w.ledger.DevaluationMultiplier())
	}

	if err := w.engine.Bid(200+326, bidder, id); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("second bid err = %v, want ErrAuctionEnded", err)
	}
	if _, _, err := w.engine.GetBidDetail(200+326, id); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("detail after end err = %v, want ErrAuctionEnded", err)
	}
}

func TestBidInPhaseTwoRealizesLoss(t *testing.T) {
	w := newWired(t)
	id := w.openAndCall(t)

	// 1000 ticks in: full collateral for 1000*800/1150 = 695. The 305
	// shortfall has no buffers to land on and marks the multiplier down.
	w.fundBidder(t, 695)
	if err := w.engine.Bid(200+1000, bidder, id); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	wantBig(t, "bidder collateral", w.collateral.BalanceOf(bidder), 1000)
	wantBig(t, "borrower collateral", w.collateral.BalanceOf(borrower), 0)
	wantBig(t, "multiplier", w.ledger.DevaluationMultiplier(), 695_000_000_000_000_000)
	wantBig(t, "book issuance", w.book.Issuance(), 0)
}

func TestBidRejectsUnderfundedBidder(t *testing.T) {
	w := newWired(t)
	id := w.openAndCall(t)

	w.fundBidder(t, 500) // needs 1000 in phase one
	if err := w.engine.Bid(200+325, bidder, id); !errors.Is(err, ErrCreditUnavailable) {
		t.Fatalf("err = %v, want ErrCreditUnavailable", err)
	}
	// Nothing settled, nothing moved.
	wantBig(t, "bidder credit", w.credit.BalanceOf(bidder), 500)
	a, _ := w.engine.GetAuction(id)
	if a.EndTime != 0 {
		t.Fatalf("auction ended by failed bid, end time %d", a.EndTime)
	}
}

func TestBidAtStartRejected(t *testing.T) {
	w := newWired(t)
	id := w.openAndCall(t)
	w.fundBidder(t, 1000)
	if err := w.engine.Bid(200, bidder, id); !errors.Is(err, ErrNoCollateralOffered) {
		t.Fatalf("err = %v, want ErrNoCollateralOffered", err)
	}
}

func TestForgiveOnlyAfterZeroDebt(t *testing.T) {
	w := newWired(t)
	id := w.openAndCall(t)

	if err := w.engine.Forgive(200+1000, id); !errors.Is(err, ErrDebtStillAsked) {
		t.Fatalf("mid-auction forgive err = %v, want ErrDebtStillAsked", err)
	}
	if err := w.engine.Forgive(200+1800, id); err != nil {
		t.Fatalf("Forgive: %v", err)
	}

	loan, err := w.book.GetLoan(id)
	if err != nil {
		t.Fatalf("GetLoan: %v", err)
	}
	if loan.Status() != loanbook.StatusClosed {
		t.Fatalf("status = %v, want closed", loan.Status())
	}
	// Nobody wanted it: collateral stays in the book escrow and the full
	// principal is an uncovered loss.
	wantBig(t, "stranded collateral", w.collateral.BalanceOf(w.book.Account()), 1000)
	wantBig(t, "multiplier", w.ledger.DevaluationMultiplier(), 0)

	if err := w.engine.Forgive(200+1801, id); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("second forgive err = %v, want ErrAuctionEnded", err)
	}
}

func TestMarkClosedAuthorization(t *testing.T) {
	w := newWired(t)
	id := w.openAndCall(t)

	if err := w.engine.MarkClosed(300, token.Address("mallory"), id); !errors.Is(err, ErrUnknownBook) {
		t.Fatalf("unauthorized err = %v, want ErrUnknownBook", err)
	}
	if err := w.engine.MarkClosed(300, w.book.Account(), id); err != nil {
		t.Fatalf("MarkClosed: %v", err)
	}
	if err := w.engine.MarkClosed(301, w.book.Account(), id); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("second mark err = %v, want ErrAuctionEnded", err)
	}
	w.fundBidder(t, 1000)
	if err := w.engine.Bid(200+325, bidder, id); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("bid after void err = %v, want ErrAuctionEnded", err)
	}
}
