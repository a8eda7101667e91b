package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/kumo/internal/model"
)

// InsertClaim inserts a claim with its citations.
func (s *Store) InsertClaim(ctx context.Context, c model.Claim) error {
	entities, err := json.Marshal(c.Entities)
	if err != nil {
		return fmt.Errorf("storage: marshal claim entities: %w", err)
	}
	citations, err := json.Marshal(c.Citations)
	if err != nil {
		return fmt.Errorf("storage: marshal claim citations: %w", err)
	}
	supersedes, err := json.Marshal(c.Supersedes)
	if err != nil {
		return fmt.Errorf("storage: marshal claim supersedes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO claims (claim_id, scope_type, scope_id, statement, claim_type,
		 entities_json, citations_json, evidence_strength, confidence, status,
		 supersedes_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ScopeType, c.ScopeID, c.Statement, c.ClaimType,
		string(entities), string(citations), c.EvidenceStrength, c.Confidence,
		string(c.Status), string(supersedes), formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert claim: %w", err)
	}
	return nil
}

// SupersedeClaim marks the claim oldID as superseded.
func (s *Store) SupersedeClaim(ctx context.Context, oldID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE claims SET status = ? WHERE claim_id = ?`,
		string(model.ClaimSuperseded), oldID)
	if err != nil {
		return fmt.Errorf("storage: supersede claim: %w", err)
	}
	return nil
}

// ListClaims returns the claims for a scope, optionally filtered by status.
func (s *Store) ListClaims(ctx context.Context, scopeType, scopeID string, status model.ClaimStatus) ([]model.Claim, error) {
	query := `SELECT claim_id, scope_type, scope_id, statement, claim_type,
		 entities_json, citations_json, evidence_strength, confidence, status,
		 supersedes_json, created_at FROM claims WHERE scope_type = ? AND scope_id = ?`
	args := []any{scopeType, scopeID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Claim
	for rows.Next() {
		var c model.Claim
		var entities, citations, supersedes sql.NullString
		var statusText, createdAt string
		if err := rows.Scan(&c.ID, &c.ScopeType, &c.ScopeID, &c.Statement, &c.ClaimType,
			&entities, &citations, &c.EvidenceStrength, &c.Confidence, &statusText,
			&supersedes, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan claim: %w", err)
		}
		c.Status = model.ClaimStatus(statusText)
		c.CreatedAt = parseTime(createdAt)
		if entities.Valid {
			_ = json.Unmarshal([]byte(entities.String), &c.Entities)
		}
		if citations.Valid {
			_ = json.Unmarshal([]byte(citations.String), &c.Citations)
		}
		if supersedes.Valid {
			_ = json.Unmarshal([]byte(supersedes.String), &c.Supersedes)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CitationResolves reports whether a citation's document and segment exist.
func (s *Store) CitationResolves(ctx context.Context, cit model.Citation) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM segments WHERE segment_id = ? AND doc_id = ?`,
		cit.SegmentID, cit.DocID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage: resolve citation: %w", err)
	}
	return n > 0, nil
}
