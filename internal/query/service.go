package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"stabilizer/internal/core"
	"stabilizer/internal/vault"
)

// Service provides read-only access to live vault state and the event log.
// Vault views come straight from the engine registry (always current);
// history reads come from Postgres.
type Service struct {
	engine *core.Engine
	db     *sql.DB
}

func NewService(engine *core.Engine, db *sql.DB) *Service {
	return &Service{engine: engine, db: db}
}

// GetVault returns the current view of one vault.
func (s *Service) GetVault(id uuid.UUID) (vault.View, error) {
	v, ok := s.engine.Vault(id)
	if !ok {
		return vault.View{}, fmt.Errorf("%w: %s", core.ErrVaultNotFound, id)
	}
	return v.Snapshot(), nil
}

// ListVaults returns views for every registered vault, ordered by ID.
func (s *Service) ListVaults() []vault.View {
	ids := s.engine.VaultIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	views := make([]vault.View, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.engine.Vault(id); ok {
			views = append(views, v.Snapshot())
		}
	}
	return views
}

// EventRecord is one event-log row for API consumers.
type EventRecord struct {
	Sequence  int64           `json:"sequence"`
	VaultID   string          `json:"vault_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// VaultEvents returns up to limit events for a vault, newest first.
func (s *Service) VaultEvents(ctx context.Context, id uuid.UUID, limit int) ([]EventRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("event history unavailable: no database")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, vault_id, event_type, payload, timestamp
		 FROM event_log.events
		 WHERE vault_id = $1
		 ORDER BY sequence DESC
		 LIMIT $2`, id.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("vault events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.Sequence, &r.VaultID, &r.EventType, &r.Payload, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
