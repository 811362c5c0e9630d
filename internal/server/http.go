package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CreditLedger/internal/auth"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/query"
)

// LiveReader serves reads that need current core state rather than the
// projection tables: debt accrues with the clock and auction prices
// move per tick. The orchestrator implements it with the same lock the
// ingestion loop holds while applying commands.
type LiveReader interface {
	LoanDebt(term string, loanID uuid.UUID, tick int64) (*big.Int, error)
	BidDetail(loanID uuid.UUID, tick int64) (collateral, debt *big.Int, err error)
	PendingRewards(user, term string) *big.Int
	LedgerStats() LedgerStats
}

// AdminInjector feeds operator commands into the core's ingest path.
// Implemented by ingestion.AdminIngestService.
type AdminInjector interface {
	InjectGaugeWeight(ctx context.Context, term string, weight *big.Int, deprecated bool, tick int64) error
	InjectForgiveLoan(ctx context.Context, term, caller string, loanID uuid.UUID, tick int64) error
	InjectSurplusDonation(ctx context.Context, term, from string, amount *big.Int, tick int64) error
	InjectSurplusWithdrawal(ctx context.Context, caller, to string, amount *big.Int, tick int64) error
	InjectCollateralMint(ctx context.Context, term, caller, to string, amount *big.Int, tick int64) error
	InjectCreditMint(ctx context.Context, caller, to string, amount *big.Int, tick int64) error
	InjectCollateralApproval(ctx context.Context, term, owner, spender string, amount *big.Int, tick int64) error
	InjectCreditApproval(ctx context.Context, owner, spender string, amount *big.Int, tick int64) error
}

// LedgerStats is the solvency summary exposed on /v1/ledger.
type LedgerStats struct {
	DevaluationMultiplier string            `json:"devaluation_multiplier"`
	TotalIssuance         string            `json:"total_issuance"`
	SurplusBuffer         string            `json:"surplus_buffer"`
	TermSurplus           map[string]string `json:"term_surplus"`
	Sequence              int64             `json:"sequence"`
	Tick                  int64             `json:"tick"`
}

// HTTPServer is the JSON read API. All /v1 routes require a bearer
// token; health probes do not.
type HTTPServer struct {
	addr     string
	queries  *query.QueryService
	live     LiveReader
	admin    AdminInjector
	verifier *auth.Verifier
	health   *observability.HealthChecker
	log      zerolog.Logger
	server   *http.Server
}

func NewHTTPServer(
	addr string,
	queries *query.QueryService,
	live LiveReader,
	admin AdminInjector,
	verifier *auth.Verifier,
	health *observability.HealthChecker,
	log zerolog.Logger,
) *HTTPServer {
	return &HTTPServer{
		addr:     addr,
		queries:  queries,
		live:     live,
		admin:    admin,
		verifier: verifier,
		health:   health,
		log:      log,
	}
}

func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		r.Get("/loans", s.handleListLoans)
		r.Get("/loans/{loanID}", s.handleGetLoan)
		r.Get("/loans/{loanID}/debt", s.handleLoanDebt)

		r.Get("/auctions", s.handleListAuctions)
		r.Get("/auctions/{loanID}", s.handleGetAuction)
		r.Get("/auctions/{loanID}/bid-detail", s.handleBidDetail)

		r.Get("/ledger", s.handleLedgerStats)
		r.Get("/rewards/{term}/{user}", s.handlePendingRewards)
		r.Get("/events", s.handleListEvents)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(auth.RoleGovernor))
			r.Get("/integrity", s.handleIntegrity)
			r.Post("/gauge-weight", s.handleInjectGaugeWeight)
			r.Post("/forgive-loan", s.handleInjectForgiveLoan)
			r.Post("/surplus/donate", s.handleInjectDonation)
			r.Post("/surplus/withdraw", s.handleInjectWithdrawal)
			r.Post("/tokens/mint-collateral", s.handleInjectCollateralMint)
			r.Post("/tokens/mint-credit", s.handleInjectCreditMint)
			r.Post("/tokens/approve-collateral", s.handleInjectCollateralApproval)
			r.Post("/tokens/approve-credit", s.handleInjectCreditApproval)
		})
	})

	return r
}

// Start serves until ctx is cancelled.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.queries.GetLoan(r.Context(), chi.URLParam(r, "loanID"))
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, "loan not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *HTTPServer) handleListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := query.LoanFilter{
		Term:     q.Get("term"),
		Borrower: q.Get("borrower"),
		Status:   q.Get("status"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		filter.Limit = limit
	}
	loans, err := s.queries.ListLoans(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": loans})
}

func (s *HTTPServer) handleLoanDebt(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad loan id")
		return
	}
	term := r.URL.Query().Get("term")
	if term == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return
	}
	tick, err := parseTick(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad tick")
		return
	}

	debt, err := s.live.LoanDebt(term, loanID, tick)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loan_id": loanID.String(),
		"term":    term,
		"tick":    tick,
		"debt":    debt.String(),
	})
}

func (s *HTTPServer) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.queries.ListOpenAuctions(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"auctions": auctions})
}

func (s *HTTPServer) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := s.queries.GetAuction(r.Context(), chi.URLParam(r, "loanID"))
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) handleBidDetail(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad loan id")
		return
	}
	tick, err := parseTick(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad tick")
		return
	}

	collateral, debt, err := s.live.BidDetail(loanID, tick)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loan_id":             loanID.String(),
		"tick":                tick,
		"collateral_received": collateral.String(),
		"debt_asked":          debt.String(),
	})
}

func (s *HTTPServer) handleLedgerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.live.LedgerStats())
}

func (s *HTTPServer) handlePendingRewards(w http.ResponseWriter, r *http.Request) {
	term := chi.URLParam(r, "term")
	user := chi.URLParam(r, "user")
	writeJSON(w, http.StatusOK, map[string]any{
		"term":    term,
		"user":    user,
		"pending": s.live.PendingRewards(user, term).String(),
	})
}

func (s *HTTPServer) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var from int64
	if v := q.Get("from"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad from sequence")
			return
		}
		from = parsed
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		limit = parsed
	}
	events, err := s.queries.GetEvents(r.Context(), from, limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleInjectGaugeWeight(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin injection disabled")
		return
	}
	var req struct {
		Term       string `json:"term"`
		Weight     string `json:"weight"`
		Deprecated bool   `json:"deprecated"`
		Tick       int64  `json:"tick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	weight, ok := new(big.Int).SetString(req.Weight, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad weight")
		return
	}
	if err := s.admin.InjectGaugeWeight(r.Context(), req.Term, weight, req.Deprecated, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *HTTPServer) handleInjectForgiveLoan(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin injection disabled")
		return
	}
	var req struct {
		Term   string `json:"term"`
		LoanID string `json:"loan_id"`
		Tick   int64  `json:"tick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	loanID, err := uuid.Parse(req.LoanID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad loan id")
		return
	}
	id, _ := auth.FromContext(r.Context())
	if err := s.admin.InjectForgiveLoan(r.Context(), req.Term, string(id.Address), loanID, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *HTTPServer) handleInjectDonation(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin injection disabled")
		return
	}
	var req struct {
		Term   string `json:"term"`
		Amount string `json:"amount"`
		Tick   int64  `json:"tick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad amount")
		return
	}
	id, _ := auth.FromContext(r.Context())
	if err := s.admin.InjectSurplusDonation(r.Context(), req.Term, string(id.Address), amount, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *HTTPServer) handleInjectWithdrawal(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin injection disabled")
		return
	}
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
		Tick   int64  `json:"tick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad amount")
		return
	}
	id, _ := auth.FromContext(r.Context())
	if err := s.admin.InjectSurplusWithdrawal(r.Context(), string(id.Address), req.To, amount, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *HTTPServer) handleInjectCollateralMint(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin injection disabled")
		return
	}
	var req struct {
		Term   string `json:"term"`
		To     string `json:"to"`
		Amount string `json:"amount"`
		Tick   int64  `json:"tick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad amount")
		return
	}
	id, _ := auth.FromContext(r.Context())
	if err := s.admin.InjectCollateralMint(r.Context(), req.Term, string(id.Address), req.To, amount, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *HTTPServer) handleInjectCreditMint(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin injection disabled")
		return
	}
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
		Tick   int64  `json:"tick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad amount")
		return
	}
	id, _ := auth.FromContext(r.Context())
	if err := s.admin.InjectCreditMint(r.Context(), string(id.Address), req.To, amount, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *HTTPServer) handleInjectCollateralApproval(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin injection disabled")
		return
	}
	var req struct {
		Term    string `json:"term"`
		Owner   string `json:"owner"`
		Spender string `json:"spender"`
		Amount  string `json:"amount"`
		Tick    int64  `json:"tick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad amount")
		return
	}
	if err := s.admin.InjectCollateralApproval(r.Context(), req.Term, req.Owner, req.Spender, amount, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *HTTPServer) handleInjectCreditApproval(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin injection disabled")
		return
	}
	var req struct {
		Owner   string `json:"owner"`
		Spender string `json:"spender"`
		Amount  string `json:"amount"`
		Tick    int64  `json:"tick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad amount")
		return
	}
	if err := s.admin.InjectCreditApproval(r.Context(), req.Owner, req.Spender, amount, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *HTTPServer) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("query failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// requireRole gates a route group on one granted role.
func requireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.FromContext(r.Context())
			if !ok || !id.HasRole(role) {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseTick(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("tick")
	if v == "" {
		return 0, errors.New("tick is required")
	}
	return strconv.ParseInt(v, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
