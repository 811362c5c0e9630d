// Package projection maintains the read-side tables. Updates ride the
// non-blocking projection channel and may be dropped under load; every
// table can be rebuilt from the event log.
package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// ProjectionOutput is one applied command as the projection side sees
// it. The orchestrator bridges core.Output into this to keep the core
// free of database concerns.
type ProjectionOutput struct {
	Sequence    int64
	CommandType string
	Term        *string
	Tick        int64
	Payload     []byte
}

// ProjectionWorker applies outputs to the loan and auction tables.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	log       zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, log zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		log:       log,
	}
}

// Run drains the projection channel until ctx is cancelled or the
// channel closes. Failed updates are logged and skipped; projections
// are eventually consistent.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				pw.log.Warn().
					Err(err).
					Int64("sequence", output.Sequence).
					Str("command", output.CommandType).
					Msg("projection update failed")
			}
			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyOutput(ctx, tx, output); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// Rebuild truncates the projection tables and replays the whole event
// log through the same apply path the live worker uses.
func Rebuild(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.loans`,
		`TRUNCATE projections.auction_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	const batchSize = 1000
	from := int64(0)
	var total int64
	for {
		rows, err := db.QueryContext(ctx, `
			SELECT sequence, command_type, term, tick, payload
			FROM event_log.events
			WHERE sequence >= $1
			ORDER BY sequence ASC
			LIMIT $2
		`, from, batchSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}

		var outputs []ProjectionOutput
		for rows.Next() {
			var o ProjectionOutput
			if err := rows.Scan(&o.Sequence, &o.CommandType, &o.Term, &o.Tick, &o.Payload); err != nil {
				rows.Close()
				return err
			}
			outputs = append(outputs, o)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(outputs) == 0 {
			break
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, o := range outputs {
			if err := applyOutput(ctx, tx, o); err != nil {
				tx.Rollback()
				return fmt.Errorf("replay seq %d: %w", o.Sequence, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		total += int64(len(outputs))
		from = outputs[len(outputs)-1].Sequence + 1
	}

	log.Info().Int64("events", total).Msg("projection rebuild complete")
	return nil
}
