package model

import "time"

// Snapshot is an immutable point-in-time projection of the claims and
// metrics for a scope, addressed by content hash.
type Snapshot struct {
	ID        string    `json:"snapshot_id"`
	ScopeType string    `json:"scope_type"`
	ScopeID   string    `json:"scope_id"`
	ClaimIDs  []string  `json:"included_claim_ids"`
	MetricIDs []string  `json:"included_metric_ids"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Change is the structured add/remove/change set between two snapshots.
type Change struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Magnitude is the total number of entries in the change set.
func (c Change) Magnitude() int {
	return len(c.Added) + len(c.Removed) + len(c.Changed)
}

// Delta records the change between two snapshots of a scope.
type Delta struct {
	ID             string    `json:"delta_id"`
	ScopeType      string    `json:"scope_type"`
	ScopeID        string    `json:"scope_id"`
	FromSnapshotID *string   `json:"from_snapshot_id,omitempty"`
	ToSnapshotID   string    `json:"to_snapshot_id"`
	Change         Change    `json:"change"`
	Summary        string    `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
