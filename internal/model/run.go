package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a graph run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunDegraded  RunStatus = "degraded"
)

// Run is one execution of a graph against a scope.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	GraphID     string     `json:"graph_id"`
	ScopeType   string     `json:"scope_type"`
	ScopeID     string     `json:"scope_id"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	TokensIn    int64      `json:"tokens_in"`
	TokensOut   int64      `json:"tokens_out"`
	CostUSD     float64    `json:"cost_usd"`
	NeedsReview bool       `json:"needs_review"`
	Error       *string    `json:"error,omitempty"`
}

// Terminal reports whether the run can no longer advance.
func (r Run) Terminal() bool {
	switch r.Status {
	case RunSucceeded, RunFailed, RunDegraded:
		return true
	}
	return false
}
