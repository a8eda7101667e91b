package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/kumo/internal/model"
)

// AppendRunEvent inserts a run event. Events are append-only.
func (s *Store) AppendRunEvent(ctx context.Context, e model.RunEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var payload any
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("storage: marshal event payload: %w", err)
		}
		payload = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (id, run_id, node_id, agent_id, status, attempt,
		 error, latency_ms, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.RunID.String(), e.NodeID, e.AgentID, string(e.Status),
		e.Attempt, nullIfEmpty(e.Error), e.LatencyMS, payload, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: append run event: %w", err)
	}
	return nil
}

// ListRunEvents returns a run's events in order.
func (s *Store) ListRunEvents(ctx context.Context, runID uuid.UUID) ([]model.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, agent_id, status, attempt, error, latency_ms,
		 payload_json, created_at
		 FROM run_events WHERE run_id = ? ORDER BY created_at`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: list run events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RunEvent
	for rows.Next() {
		var e model.RunEvent
		var id, rid, status, createdAt string
		var errText, payload sql.NullString
		if err := rows.Scan(&id, &rid, &e.NodeID, &e.AgentID, &status, &e.Attempt,
			&errText, &e.LatencyMS, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan run event: %w", err)
		}
		e.ID, _ = uuid.Parse(id)
		e.RunID, _ = uuid.Parse(rid)
		e.Status = model.EventStatus(status)
		e.Error = errText.String
		e.CreatedAt = parseTime(createdAt)
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
