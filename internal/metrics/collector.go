// Package metrics collects in-memory observability for graph runs and the
// router: run durations, token totals, frontier-call rate, QA failures,
// delta magnitudes, tier and provider distributions, and per-tier latency
// and quality. Counters also feed OpenTelemetry instruments when a meter is
// attached.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RoutingSample is one routing decision worth of router metrics.
type RoutingSample struct {
	RequestTier int
	ChosenTier  int
	Provider    string
	Escalated   bool
	LatencyMS   float64
	Quality     *float64
	CostUSD     float64
}

// Collector is the process-wide metrics sink. Safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	runDurations    []float64
	tokenTotals     []int64
	frontierCalls   int64
	localCalls      int64
	qaFailures      map[string]int64
	deltaMagnitudes []float64

	decisions      int64
	escalations    int64
	tierCounts     map[int]int64
	providerCounts map[string]int64
	costByProvider map[string]float64
	latencySumMS   map[int]float64
	qualitySum     map[int]float64
	qualityCount   map[int]int64

	// otel instruments; nil when no meter is attached.
	otelDecisions metric.Int64Counter
	otelTokens    metric.Int64Counter
	otelCost      metric.Float64Counter
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		qaFailures:     make(map[string]int64),
		tierCounts:     make(map[int]int64),
		providerCounts: make(map[string]int64),
		costByProvider: make(map[string]float64),
		latencySumMS:   make(map[int]float64),
		qualitySum:     make(map[int]float64),
		qualityCount:   make(map[int]int64),
	}
}

// AttachMeter registers otel counters on meter. Instrument creation errors
// leave the corresponding counter disabled.
func (c *Collector) AttachMeter(meter metric.Meter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.otelDecisions, _ = meter.Int64Counter("kumo.routing.decisions")
	c.otelTokens, _ = meter.Int64Counter("kumo.model.tokens")
	c.otelCost, _ = meter.Float64Counter("kumo.model.cost_usd")
}

// RecordRunDuration records a completed run's wall time.
func (c *Collector) RecordRunDuration(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runDurations = append(c.runDurations, seconds)
}

// RecordTokens records a run's total token usage.
func (c *Collector) RecordTokens(tokens int64) {
	c.mu.Lock()
	c.tokenTotals = append(c.tokenTotals, tokens)
	otelTokens := c.otelTokens
	c.mu.Unlock()
	if otelTokens != nil {
		otelTokens.Add(context.Background(), tokens)
	}
}

// RecordModelCall counts a model invocation as local or frontier.
func (c *Collector) RecordModelCall(escalated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if escalated {
		c.frontierCalls++
	} else {
		c.localCalls++
	}
}

// RecordQAFailure counts a QA gate failure against an agent.
func (c *Collector) RecordQAFailure(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qaFailures[agentID]++
}

// RecordDeltaMagnitude records the size of a snapshot delta.
func (c *Collector) RecordDeltaMagnitude(added, removed, changed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltaMagnitudes = append(c.deltaMagnitudes, float64(added+removed+changed))
}

// RecordRoutingDecision feeds the router metrics.
func (c *Collector) RecordRoutingDecision(s RoutingSample) {
	c.mu.Lock()
	c.decisions++
	if s.Escalated {
		c.escalations++
	}
	c.tierCounts[s.ChosenTier]++
	if s.Provider != "" {
		c.providerCounts[s.Provider]++
		c.costByProvider[s.Provider] += s.CostUSD
	}
	c.latencySumMS[s.ChosenTier] += s.LatencyMS
	if s.Quality != nil {
		c.qualitySum[s.ChosenTier] += *s.Quality
		c.qualityCount[s.ChosenTier]++
	}
	otelDecisions, otelCost := c.otelDecisions, c.otelCost
	c.mu.Unlock()

	if otelDecisions != nil {
		otelDecisions.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.Int("tier", s.ChosenTier),
				attribute.Bool("escalated", s.Escalated),
			))
	}
	if otelCost != nil && s.CostUSD > 0 {
		otelCost.Add(context.Background(), s.CostUSD,
			metric.WithAttributes(attribute.String("provider", s.Provider)))
	}
}

// FrontierRate returns the fraction of model calls that went to the
// frontier pool.
func (c *Collector) FrontierRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.frontierCalls + c.localCalls
	if total == 0 {
		return 0
	}
	return float64(c.frontierCalls) / float64(total)
}

// Snapshot returns all metrics as a JSON-ready map.
func (c *Collector) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	tierDist := make(map[int]int64, len(c.tierCounts))
	avgLatency := make(map[int]float64, len(c.tierCounts))
	for tier, n := range c.tierCounts {
		tierDist[tier] = n
		if n > 0 {
			avgLatency[tier] = c.latencySumMS[tier] / float64(n)
		}
	}
	avgQuality := make(map[int]float64, len(c.qualityCount))
	for tier, n := range c.qualityCount {
		if n > 0 {
			avgQuality[tier] = c.qualitySum[tier] / float64(n)
		}
	}

	var escalationRate float64
	if c.decisions > 0 {
		escalationRate = float64(c.escalations) / float64(c.decisions)
	}
	var frontierRate float64
	if total := c.frontierCalls + c.localCalls; total > 0 {
		frontierRate = float64(c.frontierCalls) / float64(total)
	}

	return map[string]any{
		"run_count":            len(c.runDurations),
		"avg_run_duration":     mean(c.runDurations),
		"total_tokens":         sumInt64(c.tokenTotals),
		"frontier_calls":       c.frontierCalls,
		"local_calls":          c.localCalls,
		"frontier_usage_rate":  frontierRate,
		"qa_failures_by_agent": copyMap(c.qaFailures),
		"avg_delta_magnitude":  mean(c.deltaMagnitudes),
		"routing": map[string]any{
			"decisions":          c.decisions,
			"escalation_rate":    escalationRate,
			"tier_distribution":  tierDist,
			"provider_counts":    copyMap(c.providerCounts),
			"cost_by_provider":   copyMapF(c.costByProvider),
			"avg_latency_by_tier": avgLatency,
			"avg_quality_by_tier": avgQuality,
		},
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sumInt64(xs []int64) int64 {
	var sum int64
	for _, x := range xs {
		sum += x
	}
	return sum
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyMapF(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
