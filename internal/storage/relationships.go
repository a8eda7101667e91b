package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Relationship links two entities within a scope, optionally backed by a
// claim.
type Relationship struct {
	ID         string    `json:"id"`
	ScopeType  string    `json:"scope_type"`
	ScopeID    string    `json:"scope_id"`
	FromEntity string    `json:"from_entity"`
	ToEntity   string    `json:"to_entity"`
	Kind       string    `json:"kind"`
	ClaimID    string    `json:"claim_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// InsertRelationship inserts an entity relationship.
func (s *Store) InsertRelationship(ctx context.Context, r Relationship) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relationships (id, scope_type, scope_id, from_entity, to_entity, kind, claim_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ScopeType, r.ScopeID, r.FromEntity, r.ToEntity, r.Kind,
		nullIfEmpty(r.ClaimID), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert relationship: %w", err)
	}
	return nil
}

// ListRelationships returns the relationships for a scope.
func (s *Store) ListRelationships(ctx context.Context, scopeType, scopeID string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope_type, scope_id, from_entity, to_entity, kind, claim_id, created_at
		 FROM relationships WHERE scope_type = ? AND scope_id = ? ORDER BY created_at`,
		scopeType, scopeID)
	if err != nil {
		return nil, fmt.Errorf("storage: list relationships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Relationship
	for rows.Next() {
		var r Relationship
		var claimID sql.NullString
		var createdAt string
		if err := rows.Scan(&r.ID, &r.ScopeType, &r.ScopeID, &r.FromEntity, &r.ToEntity,
			&r.Kind, &claimID, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan relationship: %w", err)
		}
		r.ClaimID = claimID.String
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
