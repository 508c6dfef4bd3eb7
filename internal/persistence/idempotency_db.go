package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBIdempotencyChecker answers dedup lookups against the event log for keys
// that aged out of the engine's in-memory tier.
type DBIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewDBIdempotencyChecker(db *sql.DB) *DBIdempotencyChecker {
	return &DBIdempotencyChecker{db: db, timeout: 50 * time.Millisecond}
}

// IsDuplicate checks whether an (event type, key) pair already exists in the
// log. Callers must pass the event type the operation persists as, not the op
// name; the events table only knows event types.
func (c *DBIdempotencyChecker) IsDuplicate(eventType, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM event_log.events
			WHERE event_type = $1 AND idempotency_key = $2
		)`, eventType, idempotencyKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return exists, nil
}
