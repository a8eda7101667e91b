package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashita-ai/kumo/internal/model"
)

// InsertSnapshot inserts a snapshot row.
func (s *Store) InsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	claimIDs, err := json.Marshal(snap.ClaimIDs)
	if err != nil {
		return fmt.Errorf("storage: marshal snapshot claim ids: %w", err)
	}
	metricIDs, err := json.Marshal(snap.MetricIDs)
	if err != nil {
		return fmt.Errorf("storage: marshal snapshot metric ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (snapshot_id, scope_type, scope_id, hash,
		 included_claim_ids_json, included_metric_ids_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.ScopeType, snap.ScopeID, snap.Hash,
		string(claimIDs), string(metricIDs), formatTime(snap.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert snapshot: %w", err)
	}
	return nil
}

// GetLatestSnapshot returns the newest snapshot for a scope, or nil when
// the scope has none.
func (s *Store) GetLatestSnapshot(ctx context.Context, scopeType, scopeID string) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id, scope_type, scope_id, hash,
		 included_claim_ids_json, included_metric_ids_json, created_at
		 FROM snapshots WHERE scope_type = ? AND scope_id = ?
		 ORDER BY created_at DESC LIMIT 1`, scopeType, scopeID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetSnapshot retrieves a snapshot by ID.
func (s *Store) GetSnapshot(ctx context.Context, id string) (model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id, scope_type, scope_id, hash,
		 included_claim_ids_json, included_metric_ids_json, created_at
		 FROM snapshots WHERE snapshot_id = ?`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, fmt.Errorf("storage: snapshot %s not found", id)
	}
	return snap, err
}

func scanSnapshot(row rowScanner) (model.Snapshot, error) {
	var snap model.Snapshot
	var claimIDs, metricIDs, createdAt string
	if err := row.Scan(&snap.ID, &snap.ScopeType, &snap.ScopeID, &snap.Hash,
		&claimIDs, &metricIDs, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Snapshot{}, err
		}
		return model.Snapshot{}, fmt.Errorf("storage: scan snapshot: %w", err)
	}
	_ = json.Unmarshal([]byte(claimIDs), &snap.ClaimIDs)
	_ = json.Unmarshal([]byte(metricIDs), &snap.MetricIDs)
	snap.CreatedAt = parseTime(createdAt)
	return snap, nil
}

// InsertDelta inserts a delta row.
func (s *Store) InsertDelta(ctx context.Context, d model.Delta) error {
	change, err := json.Marshal(d.Change)
	if err != nil {
		return fmt.Errorf("storage: marshal delta change: %w", err)
	}
	var from any
	if d.FromSnapshotID != nil {
		from = *d.FromSnapshotID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deltas (delta_id, scope_type, scope_id, from_snapshot_id,
		 to_snapshot_id, change_json, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ScopeType, d.ScopeID, from, d.ToSnapshotID,
		string(change), nullIfEmpty(d.Summary), formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert delta: %w", err)
	}
	return nil
}

// GetDelta retrieves a delta by ID.
func (s *Store) GetDelta(ctx context.Context, id string) (model.Delta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT delta_id, scope_type, scope_id, from_snapshot_id, to_snapshot_id,
		 change_json, summary, created_at FROM deltas WHERE delta_id = ?`, id)
	var d model.Delta
	var from, summary sql.NullString
	var change, createdAt string
	if err := row.Scan(&d.ID, &d.ScopeType, &d.ScopeID, &from, &d.ToSnapshotID,
		&change, &summary, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Delta{}, fmt.Errorf("storage: delta %s not found", id)
		}
		return model.Delta{}, fmt.Errorf("storage: scan delta: %w", err)
	}
	if from.Valid {
		d.FromSnapshotID = &from.String
	}
	d.Summary = summary.String
	d.CreatedAt = parseTime(createdAt)
	_ = json.Unmarshal([]byte(change), &d.Change)
	return d, nil
}
