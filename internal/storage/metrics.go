package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/kumo/internal/model"
)

// InsertMetric inserts a metric definition.
func (s *Store) InsertMetric(ctx context.Context, m model.Metric) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (metric_id, scope_type, scope_id, name, unit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ScopeType, m.ScopeID, m.Name, nullIfEmpty(m.Unit), formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert metric: %w", err)
	}
	return nil
}

// InsertMetricPoint appends one observation of a metric.
func (s *Store) InsertMetricPoint(ctx context.Context, p model.MetricPoint) error {
	var citation any
	if p.Citation != nil {
		data, err := json.Marshal(p.Citation)
		if err != nil {
			return fmt.Errorf("storage: marshal metric citation: %w", err)
		}
		citation = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_points (metric_id, value, observed_at, citation_json)
		 VALUES (?, ?, ?, ?)`,
		p.MetricID, p.Value, formatTime(p.ObservedAt), citation,
	)
	if err != nil {
		return fmt.Errorf("storage: insert metric point: %w", err)
	}
	return nil
}

// WriteMetricsSnapshot stores a collector snapshot for durable telemetry.
// Implements the metrics.Sink interface.
func (s *Store) WriteMetricsSnapshot(ctx context.Context, snapshot map[string]any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("storage: marshal metrics snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metric_snapshots (snapshot_json, created_at) VALUES (?, ?)`,
		string(data), nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: write metrics snapshot: %w", err)
	}
	return nil
}
