// Package query serves read-only access to the projection tables and
// the event log. Writes never pass through here.
package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
)

var ErrNotFound = fmt.Errorf("query: not found")

type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetLoan returns the projected view of one loan.
func (qs *QueryService) GetLoan(ctx context.Context, loanID string) (*LoanResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var l LoanResponse
	var caller sql.NullString
	var callTime, closeTime, lastRepay sql.NullInt64
	err = qs.db.QueryRowContext(ctx, `
		SELECT loan_id, term, borrower, borrow_amount, collateral_amount,
		       open_time, status, caller, call_time, close_time, last_partial_repay
		FROM projections.loans
		WHERE loan_id = $1
	`, loanID).Scan(
		&l.LoanID, &l.Term, &l.Borrower, &l.BorrowAmount, &l.CollateralAmount,
		&l.OpenTime, &l.Status, &caller, &callTime, &closeTime, &lastRepay,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	l.Caller = caller.String
	l.CallTime = nullInt(callTime)
	l.CloseTime = nullInt(closeTime)
	l.LastPartialRepay = nullInt(lastRepay)
	l.AsOfSequence = asOfSeq
	return &l, nil
}

// ListLoans returns loans matching the filter, newest first.
func (qs *QueryService) ListLoans(ctx context.Context, filter LoanFilter) ([]LoanResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT loan_id, term, borrower, borrow_amount, collateral_amount,
		       open_time, status, caller, call_time, close_time, last_partial_repay
		FROM projections.loans
		WHERE 1=1
	`
	var args []any
	argIdx := 1
	if filter.Term != "" {
		query += fmt.Sprintf(" AND term = $%d", argIdx)
		args = append(args, filter.Term)
		argIdx++
	}
	if filter.Borrower != "" {
		query += fmt.Sprintf(" AND borrower = $%d", argIdx)
		args = append(args, filter.Borrower)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY open_time DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []LoanResponse
	for rows.Next() {
		var l LoanResponse
		var caller sql.NullString
		var callTime, closeTime, lastRepay sql.NullInt64
		if err := rows.Scan(
			&l.LoanID, &l.Term, &l.Borrower, &l.BorrowAmount, &l.CollateralAmount,
			&l.OpenTime, &l.Status, &caller, &callTime, &closeTime, &lastRepay,
		); err != nil {
			return nil, err
		}
		l.Caller = caller.String
		l.CallTime = nullInt(callTime)
		l.CloseTime = nullInt(closeTime)
		l.LastPartialRepay = nullInt(lastRepay)
		l.AsOfSequence = asOfSeq
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// GetAuction returns the auction record for a called loan.
func (qs *QueryService) GetAuction(ctx context.Context, loanID string) (*AuctionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var a AuctionResponse
	var endTime sql.NullInt64
	var bidder, collateralSold, debtRecovered, outcome sql.NullString
	err = qs.db.QueryRowContext(ctx, `
		SELECT loan_id, term, start_time, end_time, bidder, collateral_sold, debt_recovered, outcome
		FROM projections.auction_history
		WHERE loan_id = $1
	`, loanID).Scan(
		&a.LoanID, &a.Term, &a.StartTime, &endTime,
		&bidder, &collateralSold, &debtRecovered, &outcome,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.EndTime = nullInt(endTime)
	a.Bidder = bidder.String
	a.CollateralSold = collateralSold.String
	a.DebtRecovered = debtRecovered.String
	a.Outcome = outcome.String
	a.AsOfSequence = asOfSeq
	return &a, nil
}

// ListOpenAuctions returns running auctions, optionally for one term.
func (qs *QueryService) ListOpenAuctions(ctx context.Context, term string) ([]AuctionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT loan_id, term, start_time
		FROM projections.auction_history
		WHERE end_time IS NULL
	`
	var args []any
	if term != "" {
		query += " AND term = $1"
		args = append(args, term)
	}
	query += " ORDER BY start_time ASC"

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []AuctionResponse
	for rows.Next() {
		var a AuctionResponse
		if err := rows.Scan(&a.LoanID, &a.Term, &a.StartTime); err != nil {
			return nil, err
		}
		a.AsOfSequence = asOfSeq
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

// GetEvents pages the event log for audit reads.
func (qs *QueryService) GetEvents(ctx context.Context, fromSequence int64, limit int) ([]EventResponse, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, command_type, term, tick, source_sequence, payload, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		var stateHash, prevHash []byte
		if err := rows.Scan(
			&e.Sequence, &e.CommandType, &e.Term, &e.Tick,
			&e.SourceSequence, &e.Payload, &stateHash, &prevHash,
		); err != nil {
			return nil, err
		}
		e.StateHash = hex.EncodeToString(stateHash)
		e.PrevHash = hex.EncodeToString(prevHash)
		events = append(events, e)
	}
	return events, rows.Err()
}

// VerifyIntegrity checks hash-chain continuity across the event log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var latest sql.NullInt64
	if err := qs.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.events`).Scan(&latest); err != nil {
		return nil, err
	}
	report.LatestSequence = latest.Int64

	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	report.Watermark = watermark
	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}
