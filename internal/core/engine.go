// Package core is the single-threaded command processor. Every mutating
// operation enters through ProcessCommand, which runs the pipeline:
// dedup, ordering and clock validation, dispatch into the domain
// modules, fatal invariant post-checks, state hashing, and emission to
// the persistence and projection workers. The core never reads
// wall-clock time; every command carries its tick.
package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"CreditLedger/internal/auction"
	"CreditLedger/internal/auth"
	"CreditLedger/internal/event"
	"CreditLedger/internal/gauge"
	"CreditLedger/internal/loanbook"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/solvency"
	"CreditLedger/internal/token"
)

var (
	ErrUnknownTerm     = errors.New("core: unknown term")
	ErrUnauthorized    = errors.New("core: caller lacks required role")
	ErrClockRegression = errors.New("core: command tick precedes the current clock")
	ErrNilCommand      = errors.New("core: nil command")
)

// Output is what the core emits per applied command.
type Output struct {
	Envelope   *event.Envelope
	StateDelta []byte
}

// Core is the deterministic command processor.
type Core struct {
	sequence int64
	tick     int64

	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	log               zerolog.Logger

	credit      *token.Token
	gauges      *gauge.Oracle
	ledger      *solvency.Ledger
	auctions    *auction.Engine
	roles       *auth.Registry
	books       map[string]*loanbook.Book
	collaterals map[string]*token.Token
	terms       []string // sorted book keys for deterministic digests

	// prevMultiplier guards the monotone markdown invariant.
	prevMultiplier *big.Int

	persistChan    chan<- Output
	projectionChan chan<- Output
}

// Deps bundles the core's collaborators. Books are registered after
// construction, once each book's auction wiring is done.
type Deps struct {
	Credit    *token.Token
	Gauges    *gauge.Oracle
	Ledger    *solvency.Ledger
	Auctions  *auction.Engine
	Roles     *auth.Registry
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
	DBChecker DBIdempotencyChecker

	// LRUCapacity bounds the in-memory dedup tier; zero means the default.
	LRUCapacity int

	PersistChan    chan<- Output
	ProjectionChan chan<- Output
}

func NewCore(startSequence int64, deps Deps) *Core {
	lruCapacity := deps.LRUCapacity
	if lruCapacity <= 0 {
		lruCapacity = 1_000_000
	}
	return &Core{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(lruCapacity, deps.DBChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           deps.Metrics,
		log:               deps.Logger,
		credit:            deps.Credit,
		gauges:            deps.Gauges,
		ledger:            deps.Ledger,
		auctions:          deps.Auctions,
		roles:             deps.Roles,
		books:             make(map[string]*loanbook.Book),
		collaterals:       make(map[string]*token.Token),
		prevMultiplier:    deps.Ledger.DevaluationMultiplier(),
		persistChan:       deps.PersistChan,
		projectionChan:    deps.ProjectionChan,
	}
}

// RegisterBook adds a loan book and its collateral token to the
// dispatch table. The token reference is what lets deposit and
// allowance commands reach the term's collateral.
func (c *Core) RegisterBook(b *loanbook.Book, collateral *token.Token) {
	c.books[b.Term()] = b
	c.collaterals[b.Term()] = collateral
	c.terms = append(c.terms, b.Term())
	sort.Strings(c.terms)
}

// Sequence returns the next sequence the core will assign.
func (c *Core) Sequence() int64 { return c.sequence }

// Tick returns the latest applied clock tick.
func (c *Core) Tick() int64 { return c.tick }

// Book returns the registered book for a term, for the query side.
func (c *Core) Book(term string) (*loanbook.Book, bool) {
	b, ok := c.books[term]
	return b, ok
}

// ProcessCommand is the main processing pipeline
func (c *Core) ProcessCommand(cmd event.Command) error {
	if cmd == nil {
		return ErrNilCommand
	}
	start := time.Now()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(commandType, idempotencyKey)

	// Step 2: Ordering validation. The gauge feed publishes absolute
	// values, so its gaps are tolerated and stale updates skipped.
	if gaugeCmd, ok := cmd.(*event.GaugeWeightUpdate); ok {
		if stale := c.sequenceValidator.ValidateGaugeSequence(gaugeCmd.TermID, gaugeCmd.Seq); stale {
			c.reject(commandType, "stale")
			return nil
		}
	} else if stakeCmd, ok := cmd.(*event.GaugeStakeUpdate); ok {
		if stale := c.sequenceValidator.ValidateGaugeSequence("stake:"+stakeCmd.TermID+":"+stakeCmd.Staker, stakeCmd.Seq); stale {
			c.reject(commandType, "stale")
			return nil
		}
	} else if isAdminKey(idempotencyKey) {
		// Operator injections use timestamps as sequences, so gaps are
		// expected and only monotonicity is enforced.
		if stale := c.sequenceValidator.ValidateAdminSequence(cmd.SourceSequence()); stale {
			c.reject(commandType, "stale")
			return nil
		}
	} else {
		if err := c.sequenceValidator.ValidateSequence(c.getPartition(cmd), cmd.SourceSequence(), isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// Step 3: Clock validation. Ticks are versioned inputs and must not
	// regress; equal ticks are fine, several commands share one tick.
	if cmd.Tick() < c.tick {
		return fmt.Errorf("%w: clock=%d command=%d", ErrClockRegression, c.tick, cmd.Tick())
	}

	// If duplicate, skip processing
	if isDuplicate {
		c.reject(commandType, "duplicate")
		return nil
	}

	// Step 4: Dispatch into the domain modules
	result, err := c.dispatch(cmd)
	if err != nil {
		c.reject(commandType, "rejected")
		return fmt.Errorf("dispatch failed: %w", err)
	}
	c.tick = cmd.Tick()

	// Step 5: Post-checks. A failed invariant after a successful dispatch
	// means corrupted solvency accounting; halt rather than continue.
	if err := c.postCheckInvariants(cmd); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: State digest and hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest()
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(map[string]any{
		"command": cmd,
		"result":  result,
	})
	if err != nil {
		panic(fmt.Sprintf("FATAL: payload marshal for %s: %v", commandType, err))
	}

	envelope := &event.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		Term:           cmd.Term(),
		Tick:           cmd.Tick(),
		SourceSequence: cmd.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := Output{Envelope: envelope, StateDelta: stateDigest}
	c.sequence++

	// Step 7: Emission. Persistence uses a BLOCKING send so no applied
	// command is ever lost; projections use a NON-BLOCKING send and can
	// rebuild from the event log if they fall behind.
	c.persistChan <- output
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.Inc()
		}
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(commandType, idempotencyKey)

	c.observe(cmd, commandType, start)
	return nil
}

func (c *Core) reject(commandType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreCommandsRejected.WithLabelValues(commandType, reason).Inc()
	}
}

// isAdminKey reports whether a command came from the operator ingest
// path rather than an upstream producer.
func isAdminKey(idempotencyKey string) bool {
	return strings.HasPrefix(idempotencyKey, "admin:")
}

// getPartition determines partition key for sequence validation
func (c *Core) getPartition(cmd event.Command) string {
	if term := cmd.Term(); term != nil {
		return fmt.Sprintf("term:%s", *term)
	}
	return "global"
}

func (c *Core) bookFor(term string) (*loanbook.Book, error) {
	b, ok := c.books[term]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTerm, term)
	}
	return b, nil
}

func (c *Core) collateralFor(term string) (*token.Token, error) {
	t, ok := c.collaterals[term]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTerm, term)
	}
	return t, nil
}

// dispatch maps one command to one domain operation. The returned value
// is included in the envelope payload.
func (c *Core) dispatch(cmd event.Command) (any, error) {
	switch e := cmd.(type) {
	case *event.Borrow:
		b, err := c.bookFor(e.TermID)
		if err != nil {
			return nil, err
		}
		id, err := b.Borrow(e.TickAt, token.Address(e.Borrower), e.BorrowAmount, e.CollateralAmount)
		if err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.LoansOpened.WithLabelValues(e.TermID).Inc()
		}
		return map[string]string{"loan_id": id.String()}, nil

	case *event.AddCollateral:
		b, err := c.bookFor(e.TermID)
		if err != nil {
			return nil, err
		}
		return nil, b.AddCollateral(e.TickAt, token.Address(e.From), e.LoanID, e.Amount)

	case *event.PartialRepay:
		b, err := c.bookFor(e.TermID)
		if err != nil {
			return nil, err
		}
		return nil, b.PartialRepay(e.TickAt, token.Address(e.Payer), e.LoanID, e.Amount)

	case *event.Repay:
		b, err := c.bookFor(e.TermID)
		if err != nil {
			return nil, err
		}
		if err := b.Repay(e.TickAt, token.Address(e.Payer), e.LoanID); err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.LoansRepaid.WithLabelValues(e.TermID).Inc()
		}
		return nil, nil

	case *event.Call:
		b, err := c.bookFor(e.TermID)
		if err != nil {
			return nil, err
		}
		if err := b.Call(e.TickAt, token.Address(e.Caller), e.LoanID); err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.LoansCalled.WithLabelValues(e.TermID).Inc()
			c.metrics.AuctionsStarted.WithLabelValues(e.TermID).Inc()
		}
		return nil, nil

	case *event.Bid:
		if err := c.auctions.Bid(e.TickAt, token.Address(e.Bidder), e.LoanID); err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.AuctionsSettled.WithLabelValues(e.TermID).Inc()
		}
		a, err := c.auctions.GetAuction(e.LoanID)
		if err != nil {
			return nil, nil
		}
		return map[string]string{
			"collateral_sold": a.CollateralSold.String(),
			"debt_recovered":  a.DebtRecovered.String(),
		}, nil

	case *event.ForgiveAuction:
		if err := c.auctions.Forgive(e.TickAt, e.LoanID); err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.AuctionsForgiven.WithLabelValues(e.TermID).Inc()
		}
		return nil, nil

	case *event.ForgiveLoan:
		b, err := c.bookFor(e.TermID)
		if err != nil {
			return nil, err
		}
		hasRole := c.roles.Has(token.Address(e.Caller), auth.RoleGovernor)
		if err := b.Forgive(e.TickAt, hasRole, e.LoanID); err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.LoansForgiven.WithLabelValues(e.TermID).Inc()
		}
		return nil, nil

	case *event.DonateSurplus:
		if e.TermID != "" {
			return nil, c.ledger.DonateToTermSurplusBuffer(token.Address(e.From), e.TermID, e.Amount)
		}
		return nil, c.ledger.DonateToSurplusBuffer(token.Address(e.From), e.Amount)

	case *event.WithdrawSurplus:
		if !c.roles.Has(token.Address(e.Caller), auth.RoleSurplusManager) {
			return nil, ErrUnauthorized
		}
		return nil, c.ledger.WithdrawFromSurplusBuffer(token.Address(e.To), e.Amount)

	case *event.ClaimRewards:
		claimed, err := c.ledger.ClaimGaugeRewards(token.Address(e.User), e.TermID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"claimed": claimed.String()}, nil

	case *event.MintCollateral:
		if !c.roles.Has(token.Address(e.Caller), auth.RoleGovernor) {
			return nil, ErrUnauthorized
		}
		coll, err := c.collateralFor(e.TermID)
		if err != nil {
			return nil, err
		}
		return nil, coll.Mint(token.Address(e.To), e.Amount)

	case *event.MintCredit:
		if !c.roles.Has(token.Address(e.Caller), auth.RoleGovernor) {
			return nil, ErrUnauthorized
		}
		return nil, c.credit.Mint(token.Address(e.To), e.Amount)

	case *event.ApproveCollateral:
		coll, err := c.collateralFor(e.TermID)
		if err != nil {
			return nil, err
		}
		spender := token.Address(e.Spender)
		if spender == "" {
			spender = c.books[e.TermID].Account()
		}
		coll.Approve(token.Address(e.Owner), spender, e.Amount)
		return map[string]string{"spender": string(spender)}, nil

	case *event.ApproveCredit:
		c.credit.Approve(token.Address(e.Owner), token.Address(e.Spender), e.Amount)
		return nil, nil

	case *event.GaugeWeightUpdate:
		c.gauges.SetWeight(e.TermID, e.Weight)
		c.gauges.SetDeprecated(e.TermID, e.Deprecated)
		return nil, nil

	case *event.GaugeStakeUpdate:
		c.gauges.SetStake(e.TermID, token.Address(e.Staker), e.Weight)
		return nil, nil

	default:
		return nil, fmt.Errorf("core: unhandled command type %T", cmd)
	}
}

// postCheckInvariants validates solvency invariants after dispatch
func (c *Core) postCheckInvariants(cmd event.Command) error {
	// Markdown only ever moves down.
	mult := c.ledger.DevaluationMultiplier()
	if mult.Cmp(c.prevMultiplier) > 0 {
		return fmt.Errorf("devaluation multiplier increased: %s -> %s", c.prevMultiplier, mult)
	}
	c.prevMultiplier = mult

	if err := c.ledger.CheckInvariants(); err != nil {
		return err
	}

	// Issuance of the touched book must equal its open principal.
	if term := cmd.Term(); term != nil {
		if b, ok := c.books[*term]; ok {
			if err := b.CheckInvariants(); err != nil {
				return err
			}
		}
	}

	// Global issuance must equal the books' sum.
	sum := new(big.Int)
	for _, term := range c.terms {
		sum.Add(sum, c.books[term].Issuance())
	}
	if total := c.ledger.TotalIssuance(); sum.Cmp(total) != 0 {
		return fmt.Errorf("total issuance %s != books' sum %s", total, sum)
	}
	return nil
}

// computeStateDigest creates canonical bytes for the state hash: the
// ledger aggregates, then each book's issuance, term buffer, and
// collateral supply in sorted term order, then the debt token supply.
func (c *Core) computeStateDigest() []byte {
	digest := make([]byte, 0, 128+len(c.terms)*64)
	digest = appendBig(digest, c.ledger.DevaluationMultiplier())
	digest = appendBig(digest, c.ledger.TotalIssuance())
	digest = appendBig(digest, c.ledger.SurplusBuffer())

	for _, term := range c.terms {
		digest = append(digest, byte(len(term)))
		digest = append(digest, []byte(term)...)
		digest = appendBig(digest, c.books[term].Issuance())
		digest = appendBig(digest, c.ledger.TermSurplusBuffer(term))
		digest = appendBig(digest, c.collaterals[term].TotalSupply())
	}

	digest = appendBig(digest, c.credit.TotalSupply())
	return digest
}

// appendBig writes sign byte, 2-byte LE length, then magnitude bytes.
func appendBig(buf []byte, v *big.Int) []byte {
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	mag := v.Bytes()
	buf = append(buf, sign)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(mag)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, mag...)
}

func (c *Core) observe(cmd event.Command, commandType string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
	c.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.CoreTick.Set(float64(c.tick))

	c.metrics.SurplusBuffer.Set(bigFloat(c.ledger.SurplusBuffer()))
	c.metrics.DevaluationMultiplier.Set(bigFloat(c.ledger.DevaluationMultiplier()))
	c.metrics.TotalIssuance.Set(bigFloat(c.ledger.TotalIssuance()))
	if term := cmd.Term(); term != nil {
		if b, ok := c.books[*term]; ok {
			c.metrics.BookIssuance.WithLabelValues(*term).Set(bigFloat(b.Issuance()))
		}
	}
}

func bigFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
