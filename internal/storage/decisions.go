package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/kumo/internal/model"
)

// InsertRoutingDecision appends one routing decision.
func (s *Store) InsertRoutingDecision(ctx context.Context, d model.RoutingDecision) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	var runID any
	if d.RunID != nil {
		runID = d.RunID.String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_decisions
		 (id, run_id, node_id, agent_id, request_tier, chosen_tier, provider,
		  escalation_reason, confidence, complexity, quality, latency_ms,
		  tokens_in, tokens_out, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), runID, nullIfEmpty(d.NodeID), nullIfEmpty(d.AgentID),
		d.RequestTier, d.ChosenTier, nullIfEmpty(d.Provider),
		nullIfEmpty(d.EscalationReason), d.Confidence, d.Complexity, d.Quality,
		d.LatencyMS, d.TokensIn, d.TokensOut, d.CostUSD, formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert routing decision: %w", err)
	}
	return nil
}

// ListDecisionsForRun returns a run's routing decisions in call order.
func (s *Store) ListDecisionsForRun(ctx context.Context, runID uuid.UUID) ([]model.RoutingDecision, error) {
	return s.listDecisions(ctx,
		`SELECT id, run_id, node_id, agent_id, request_tier, chosen_tier, provider,
		 escalation_reason, confidence, complexity, quality, latency_ms,
		 tokens_in, tokens_out, cost_usd, created_at
		 FROM routing_decisions WHERE run_id = ? ORDER BY created_at`, runID.String())
}

// ListDecisions returns the most recent routing decisions, newest first.
func (s *Store) ListDecisions(ctx context.Context, limit int) ([]model.RoutingDecision, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listDecisions(ctx,
		`SELECT id, run_id, node_id, agent_id, request_tier, chosen_tier, provider,
		 escalation_reason, confidence, complexity, quality, latency_ms,
		 tokens_in, tokens_out, cost_usd, created_at
		 FROM routing_decisions ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) listDecisions(ctx context.Context, query string, args ...any) ([]model.RoutingDecision, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list routing decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RoutingDecision
	for rows.Next() {
		var d model.RoutingDecision
		var id, createdAt string
		var runID, nodeID, agentID, provider, reason sql.NullString
		var confidence, complexity, quality, latency, cost sql.NullFloat64
		var tokensIn, tokensOut sql.NullInt64
		if err := rows.Scan(&id, &runID, &nodeID, &agentID, &d.RequestTier, &d.ChosenTier,
			&provider, &reason, &confidence, &complexity, &quality, &latency,
			&tokensIn, &tokensOut, &cost, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan routing decision: %w", err)
		}
		d.ID, _ = uuid.Parse(id)
		if runID.Valid {
			if rid, err := uuid.Parse(runID.String); err == nil {
				d.RunID = &rid
			}
		}
		d.NodeID = nodeID.String
		d.AgentID = agentID.String
		d.Provider = provider.String
		d.EscalationReason = reason.String
		if confidence.Valid {
			d.Confidence = &confidence.Float64
		}
		if complexity.Valid {
			d.Complexity = &complexity.Float64
		}
		if quality.Valid {
			d.Quality = &quality.Float64
		}
		d.LatencyMS = latency.Float64
		d.TokensIn = int(tokensIn.Int64)
		d.TokensOut = int(tokensOut.Int64)
		d.CostUSD = cost.Float64
		d.CreatedAt = parseTime(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// TierCount is one row of the tier distribution aggregate.
type TierCount struct {
	Tier  int   `json:"tier"`
	Count int64 `json:"count"`
}

// TierDistribution counts decisions per chosen tier.
func (s *Store) TierDistribution(ctx context.Context) ([]TierCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chosen_tier, COUNT(*) FROM routing_decisions GROUP BY chosen_tier ORDER BY chosen_tier`)
	if err != nil {
		return nil, fmt.Errorf("storage: tier distribution: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TierCount
	for rows.Next() {
		var tc TierCount
		if err := rows.Scan(&tc.Tier, &tc.Count); err != nil {
			return nil, fmt.Errorf("storage: scan tier count: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ProviderCost is one row of the cost-by-provider aggregate.
type ProviderCost struct {
	Provider string  `json:"provider"`
	Calls    int64   `json:"calls"`
	CostUSD  float64 `json:"cost_usd"`
}

// CostByProvider sums cost per provider, most expensive first.
func (s *Store) CostByProvider(ctx context.Context) ([]ProviderCost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, COUNT(*), COALESCE(SUM(cost_usd), 0)
		 FROM routing_decisions WHERE provider IS NOT NULL
		 GROUP BY provider ORDER BY SUM(cost_usd) DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: cost by provider: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ProviderCost
	for rows.Next() {
		var pc ProviderCost
		if err := rows.Scan(&pc.Provider, &pc.Calls, &pc.CostUSD); err != nil {
			return nil, fmt.Errorf("storage: scan provider cost: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
