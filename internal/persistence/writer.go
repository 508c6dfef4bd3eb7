package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes applied vault events to Postgres using multi-row
// INSERT batches. The unique index on (event_type, idempotency_key) is the
// durable backstop behind the in-memory dedup tier.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row in event_log.events.
type EventRow struct {
	Sequence       int64
	VaultID        string
	EventType      string
	IdempotencyKey string
	Payload        []byte // JSON event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch inserts a batch of events in one statement.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, vault_id, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*8)
	for i, e := range events {
		base := i * 8
		values = append(values, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args, e.Sequence, e.VaultID, e.EventType, nullable(e.IdempotencyKey),
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp)
	}

	query += strings.Join(values, ",")
	query += ` ON CONFLICT (sequence) DO NOTHING`

	if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write event batch: %w", err)
	}
	return nil
}

// LastSequence returns the highest durably written sequence, 0 when empty.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
