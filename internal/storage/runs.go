package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/kumo/internal/model"
)

// CreateRun inserts a run row.
func (s *Store) CreateRun(ctx context.Context, r model.Run) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, graph_id, scope_type, scope_id, status, started_at,
		 tokens_in, tokens_out, cost_usd, needs_review, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.GraphID, r.ScopeType, r.ScopeID, string(r.Status),
		formatTime(r.StartedAt), r.TokensIn, r.TokensOut, r.CostUSD,
		boolInt(r.NeedsReview), r.Error,
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// UpdateRun updates a run's status, totals, and completion time.
func (s *Store) UpdateRun(ctx context.Context, r model.Run) error {
	var completed any
	if r.CompletedAt != nil {
		completed = formatTime(*r.CompletedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, tokens_in = ?, tokens_out = ?,
		 cost_usd = ?, needs_review = ?, error = ? WHERE id = ?`,
		string(r.Status), completed, r.TokensIn, r.TokensOut,
		r.CostUSD, boolInt(r.NeedsReview), r.Error, r.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("storage: update run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, graph_id, scope_type, scope_id, status, started_at, completed_at,
		 tokens_in, tokens_out, cost_usd, needs_review, error
		 FROM runs WHERE id = ?`, id.String())
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, fmt.Errorf("storage: run %s not found", id)
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, graph_id, scope_type, scope_id, status, started_at, completed_at,
		 tokens_in, tokens_out, cost_usd, needs_review, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.Run, error) {
	var r model.Run
	var id, startedAt string
	var completedAt sql.NullString
	var status string
	var needsReview int
	var errText sql.NullString
	if err := row.Scan(&id, &r.GraphID, &r.ScopeType, &r.ScopeID, &status, &startedAt,
		&completedAt, &r.TokensIn, &r.TokensOut, &r.CostUSD, &needsReview, &errText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, err
		}
		return model.Run{}, fmt.Errorf("storage: scan run: %w", err)
	}
	r.ID, _ = uuid.Parse(id)
	r.Status = model.RunStatus(status)
	r.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		r.CompletedAt = &t
	}
	r.NeedsReview = needsReview != 0
	if errText.Valid {
		r.Error = &errText.String
	}
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
