package model

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the per-node outcome recorded in the run event log.
type EventStatus string

const (
	EventSuccess        EventStatus = "success"
	EventFailed         EventStatus = "failed"
	EventBudgetDegraded EventStatus = "budget_degraded"
)

// RunEvent is an append-only record of one node execution attempt outcome.
// Source of truth for run history. Never mutated or deleted.
type RunEvent struct {
	ID        uuid.UUID      `json:"id"`
	RunID     uuid.UUID      `json:"run_id"`
	NodeID    string         `json:"node_id"`
	AgentID   string         `json:"agent_id"`
	Status    EventStatus    `json:"status"`
	Attempt   int            `json:"attempt"`
	Error     string         `json:"error,omitempty"`
	LatencyMS float64        `json:"latency_ms"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
