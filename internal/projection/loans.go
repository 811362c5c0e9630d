package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
)

// payload mirrors the envelope payload shape: the full command plus the
// dispatch result. Fields not used by a given command type stay zero.
type payload struct {
	Command struct {
		Tick             int64    `json:"tick"`
		Term             string   `json:"term"`
		Borrower         string   `json:"borrower"`
		From             string   `json:"from"`
		Payer            string   `json:"payer"`
		Caller           string   `json:"caller"`
		Bidder           string   `json:"bidder"`
		LoanID           string   `json:"loan_id"`
		Amount           *big.Int `json:"amount"`
		BorrowAmount     *big.Int `json:"borrow_amount"`
		CollateralAmount *big.Int `json:"collateral_amount"`
	} `json:"command"`
	Result map[string]string `json:"result"`
}

// applyOutput routes one applied command into the projection tables.
// Shared by the live worker and Rebuild so both paths stay identical.
func applyOutput(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	var p payload
	if err := json.Unmarshal(output.Payload, &p); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	switch output.CommandType {
	case "Borrow":
		loanID := p.Result["loan_id"]
		if loanID == "" {
			return fmt.Errorf("borrow payload without loan id")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.loans
				(loan_id, term, borrower, borrow_amount, collateral_amount, open_time, status, updated_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, 'open', $7)
			ON CONFLICT (loan_id) DO NOTHING
		`, loanID, p.Command.Term, p.Command.Borrower,
			p.Command.BorrowAmount.String(), p.Command.CollateralAmount.String(),
			output.Tick, output.Sequence)
		return err

	case "AddCollateral":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.loans
			SET collateral_amount = collateral_amount + $2, updated_sequence = $3
			WHERE loan_id = $1
		`, p.Command.LoanID, p.Command.Amount.String(), output.Sequence)
		return err

	case "PartialRepay":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.loans
			SET last_partial_repay = $2, updated_sequence = $3
			WHERE loan_id = $1
		`, p.Command.LoanID, output.Tick, output.Sequence)
		return err

	case "Repay":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.loans
			SET status = 'closed', close_time = $2, updated_sequence = $3
			WHERE loan_id = $1
		`, p.Command.LoanID, output.Tick, output.Sequence)
		if err != nil {
			return err
		}
		// A grace-window repay voids the live auction.
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.auction_history
			SET end_time = $2, outcome = 'repaid', updated_sequence = $3
			WHERE loan_id = $1 AND end_time IS NULL
		`, p.Command.LoanID, output.Tick, output.Sequence)
		return err

	case "Call":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.loans
			SET status = 'called', caller = $2, call_time = $3, updated_sequence = $4
			WHERE loan_id = $1
		`, p.Command.LoanID, p.Command.Caller, output.Tick, output.Sequence)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projections.auction_history
				(loan_id, term, start_time, updated_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (loan_id) DO NOTHING
		`, p.Command.LoanID, p.Command.Term, output.Tick, output.Sequence)
		return err

	case "Bid":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.loans
			SET status = 'closed', close_time = $2, updated_sequence = $3
			WHERE loan_id = $1
		`, p.Command.LoanID, output.Tick, output.Sequence)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.auction_history
			SET end_time = $2, bidder = $3, collateral_sold = $4, debt_recovered = $5,
			    outcome = 'settled', updated_sequence = $6
			WHERE loan_id = $1
		`, p.Command.LoanID, output.Tick, p.Command.Bidder,
			nullableNumeric(p.Result["collateral_sold"]),
			nullableNumeric(p.Result["debt_recovered"]),
			output.Sequence)
		return err

	case "ForgiveAuction":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.loans
			SET status = 'forgiven', close_time = $2, updated_sequence = $3
			WHERE loan_id = $1
		`, p.Command.LoanID, output.Tick, output.Sequence)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.auction_history
			SET end_time = $2, outcome = 'forgiven', updated_sequence = $3
			WHERE loan_id = $1
		`, p.Command.LoanID, output.Tick, output.Sequence)
		return err

	case "ForgiveLoan":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.loans
			SET status = 'forgiven', close_time = $2, updated_sequence = $3
			WHERE loan_id = $1
		`, p.Command.LoanID, output.Tick, output.Sequence)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.auction_history
			SET end_time = $2, outcome = 'forgiven', updated_sequence = $3
			WHERE loan_id = $1 AND end_time IS NULL
		`, p.Command.LoanID, output.Tick, output.Sequence)
		return err

	default:
		// Surplus, reward, gauge, and token provisioning commands have
		// no loan-side view.
		return nil
	}
}

func nullableNumeric(s string) any {
	if s == "" {
		return nil
	}
	return s
}
