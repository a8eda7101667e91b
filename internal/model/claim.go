package model

import "time"

// ClaimStatus enumerates claim lifecycle states.
type ClaimStatus string

const (
	ClaimActive     ClaimStatus = "active"
	ClaimSuperseded ClaimStatus = "superseded"
	ClaimRetracted  ClaimStatus = "retracted"
)

// Citation links a claim to the document segment supporting it.
type Citation struct {
	DocID     string `json:"doc_id"`
	SegmentID string `json:"segment_id"`
}

// Claim is an atomic, cited statement extracted for a scope.
type Claim struct {
	ID               string      `json:"claim_id"`
	ScopeType        string      `json:"scope_type"`
	ScopeID          string      `json:"scope_id"`
	Statement        string      `json:"statement"`
	ClaimType        string      `json:"claim_type"`
	Entities         []string    `json:"entities,omitempty"`
	Citations        []Citation  `json:"citations"`
	EvidenceStrength float64     `json:"evidence_strength"`
	Confidence       float64     `json:"confidence"`
	Status           ClaimStatus `json:"status"`
	// Supersedes is the chain of claim IDs this claim replaces.
	Supersedes []string  `json:"supersedes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Document is an ingested source document.
type Document struct {
	ID        string    `json:"doc_id"`
	ScopeType string    `json:"scope_type"`
	ScopeID   string    `json:"scope_id"`
	SourceURI string    `json:"source_uri,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Segment is a normalized chunk of a document, the citation target unit.
type Segment struct {
	ID        string    `json:"segment_id"`
	DocID     string    `json:"doc_id"`
	Ordinal   int       `json:"ordinal"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Entity is a resolved named entity referenced by claims.
type Entity struct {
	ID        string    `json:"entity_id"`
	ScopeType string    `json:"scope_type"`
	ScopeID   string    `json:"scope_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind,omitempty"`
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Metric is a tracked quantitative series for a scope.
type Metric struct {
	ID        string    `json:"metric_id"`
	ScopeType string    `json:"scope_type"`
	ScopeID   string    `json:"scope_id"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MetricPoint is one observation of a metric.
type MetricPoint struct {
	MetricID   string    `json:"metric_id"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Citation   *Citation `json:"citation,omitempty"`
}
