package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"stabilizer/internal/vault"
)

// SnapshotManager persists and loads point-in-time vault state so recovery
// does not have to replay the whole event log.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the full registry state at a sequence.
type SnapshotData struct {
	Sequence  int64        `json:"sequence"`
	StateHash []byte       `json:"state_hash"`
	Vaults    []vault.View `json:"vaults"`
	CreatedAt time.Time    `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot row.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = sm.db.ExecContext(ctx,
		`INSERT INTO event_log.snapshots (sequence, state_hash, data, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (sequence) DO NOTHING`,
		snap.Sequence, snap.StateHash, data, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadLatest returns the most recent snapshot, or nil when none exists.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx,
		`SELECT data FROM event_log.snapshots ORDER BY sequence DESC LIMIT 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Prune removes snapshots older than keep sequences behind the newest.
func (sm *SnapshotManager) Prune(ctx context.Context, keep int64) error {
	_, err := sm.db.ExecContext(ctx,
		`DELETE FROM event_log.snapshots
		 WHERE sequence < (SELECT COALESCE(MAX(sequence), 0) - $1 FROM event_log.snapshots)`,
		keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}
