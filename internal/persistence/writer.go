package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter batch-inserts applied command envelopes into Postgres.
// Multi-row INSERT keeps the writer portable; switch to pgx CopyFrom if
// the batch path ever becomes the bottleneck.
type EventLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// EventRow is one row in event_log.events.
type EventRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Term           *string
	Tick           int64
	SourceSequence int64
	Payload        []byte // JSON command + result
	StateHash      []byte
	PrevHash       []byte
}

func NewEventLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *EventLogWriter {
	return &EventLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WriteEventBatch inserts a batch outside any transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow) error {
	return w.writeEvents(ctx, w.db, events)
}

// WriteEventBatchTx inserts a batch inside the caller's transaction.
func (w *EventLogWriter) WriteEventBatchTx(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	return w.writeEvents(ctx, tx, events)
}

func (w *EventLogWriter) writeEvents(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, command_type, idempotency_key, term, tick, source_sequence, payload, state_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.CommandType, e.IdempotencyKey, e.Term, e.Tick,
			e.SourceSequence, e.Payload, e.StateHash, e.PrevHash,
		)
	}

	query += strings.Join(values, ", ")
	// Replays re-emit the same sequence; the first write wins.
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
