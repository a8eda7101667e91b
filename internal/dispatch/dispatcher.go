// Package dispatch routes requests through the tiered inference chain.
//
// Tier 0: deterministic regex/command matching (no model).
// Tier 1: micro model classification with a safety bypass.
// Tier 2: light model reasoning (larger context and output budget).
// Tier 3: frontier provider pool with failover and daily caps.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ashita-ai/kumo/internal/adapter"
	"github.com/ashita-ai/kumo/internal/agent"
	"github.com/ashita-ai/kumo/internal/command"
	"github.com/ashita-ai/kumo/internal/metrics"
	"github.com/ashita-ai/kumo/internal/provider"
	"github.com/ashita-ai/kumo/internal/ratelimit"
	"github.com/ashita-ai/kumo/internal/router"
	"github.com/ashita-ai/kumo/internal/state"
)

// semaphoreWait bounds how long a saturated tier queues before the request
// escalates past it.
const semaphoreWait = 5 * time.Second

// maxTier1Retries is how many extra classification attempts tier 1 gets on
// timeout or parse failure. Each retry is a fresh classification.
const maxTier1Retries = 2

// tier3CallTimeout caps a single frontier provider call.
const tier3CallTimeout = 120 * time.Second

// Result is the outcome of dispatching one request.
type Result struct {
	Tier          int            `json:"tier"`
	Action        string         `json:"action"`
	Target        string         `json:"target"`
	Args          map[string]any `json:"args,omitempty"`
	Confidence    float64        `json:"confidence"`
	Provider      string         `json:"provider,omitempty"`
	ModelResponse string         `json:"model_response,omitempty"`
	SafetyFlagged bool           `json:"safety_flagged,omitempty"`
	SafetyReason  string         `json:"safety_reason,omitempty"`
}

// Options configures a Dispatcher. Nil model calls disable their tier.
type Options struct {
	Commands  *command.Registry
	Router    *router.Router
	Providers *provider.Registry
	Metrics   *metrics.Collector
	// Limiter paces tier-3 calls per provider name; nil disables pacing.
	Limiter ratelimit.Limiter
	// Tier1Call and Tier2Call are the classification and reasoning
	// callables.
	Tier1Call agent.Call
	Tier2Call agent.Call
	// AvailableGraphs is advertised to the tier-1 classifier.
	AvailableGraphs []string
	Logger          *slog.Logger
}

// Dispatcher routes requests through the tier chain. Shared across
// runs/requests; all methods are safe for concurrent use.
type Dispatcher struct {
	commands  *command.Registry
	routerRef *router.Router
	providers *provider.Registry
	collector *metrics.Collector
	limiter   ratelimit.Limiter
	tier1Call agent.Call
	tier2Call agent.Call
	graphs    []string
	logger    *slog.Logger

	mu                  sync.RWMutex
	confidenceThreshold float64
	qualityThreshold    float64
	maxInputLength      int
	tier1Timeout        time.Duration
	tier2Timeout        time.Duration
	tier1Sem            *semaphore.Weighted
	tier2Sem            *semaphore.Weighted
	strategy            provider.Strategy
}

// New creates a dispatcher. Tier thresholds, timeouts, and semaphore
// permits come from the router config (or its defaults).
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := router.DefaultConfig()
	if opts.Router != nil {
		cfg = opts.Router.Config()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}
	d := &Dispatcher{
		commands:  opts.Commands,
		routerRef: opts.Router,
		providers: opts.Providers,
		collector: collector,
		limiter:   opts.Limiter,
		tier1Call: opts.Tier1Call,
		tier2Call: opts.Tier2Call,
		graphs:    opts.AvailableGraphs,
		logger:    logger,
	}
	d.applyConfig(cfg)
	return d
}

// applyConfig installs thresholds, timeouts, and semaphores from cfg.
func (d *Dispatcher) applyConfig(cfg router.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confidenceThreshold = cfg.Escalation.MinConfidence
	d.qualityThreshold = cfg.Escalation.QualityThreshold
	d.maxInputLength = defaultMaxInputLength
	d.tier1Timeout = cfg.Tier1.Timeout()
	d.tier2Timeout = cfg.Tier2.Timeout()
	d.tier1Sem = semaphore.NewWeighted(int64(cfg.Tier1.Concurrency))
	d.tier2Sem = semaphore.NewWeighted(int64(cfg.Tier2.Concurrency))
	d.strategy = cfg.Strategy
}

// ReloadConfig hot-reloads thresholds, timeouts, and semaphore permits from
// a router config file. Model callables are never replaced. When a router is
// attached, its config reloads too.
func (d *Dispatcher) ReloadConfig(path string) error {
	cfg, err := router.LoadConfig(path)
	if err != nil {
		return err
	}
	if d.routerRef != nil {
		if err := d.routerRef.ReloadConfig(path); err != nil {
			return err
		}
	}
	d.applyConfig(cfg)
	d.logger.Info("dispatcher config reloaded",
		"confidence_threshold", cfg.Escalation.MinConfidence,
		"tier1_timeout", cfg.Tier1.Timeout(),
		"tier2_timeout", cfg.Tier2.Timeout())
	return nil
}

// acquire takes a tier semaphore with a bounded wait. A saturated tier
// queues briefly, then the request escalates past it.
func (d *Dispatcher) acquire(ctx context.Context, sem *semaphore.Weighted, tier int) bool {
	waitCtx, cancel := context.WithTimeout(ctx, semaphoreWait)
	defer cancel()
	if err := sem.Acquire(waitCtx, 1); err != nil {
		d.logger.Warn("tier concurrency limit reached, skipping", "tier", tier)
		return false
	}
	return true
}

// Dispatch routes request through the tier chain.
func (d *Dispatcher) Dispatch(ctx context.Context, request string) (Result, error) {
	start := time.Now()

	d.mu.RLock()
	maxLength := d.maxInputLength
	tier1Sem, tier2Sem := d.tier1Sem, d.tier2Sem
	d.mu.RUnlock()

	// Input sanitization — enforce max length and detect injection.
	clean, rejection := sanitize(request, maxLength)
	if rejection != "" {
		d.logger.Warn("input rejected", "reason", rejection)
		result := Result{
			Tier:          0,
			Action:        "rejected",
			Confidence:    1.0,
			SafetyFlagged: true,
			SafetyReason:  rejection,
		}
		d.logDecision(result, start, nil)
		return result, nil
	}

	// Tier 0 — deterministic regex match.
	if d.commands != nil {
		if m := d.commands.MatchText(clean); m != nil {
			d.logger.Info("tier 0 match",
				"action", m.Action, "target", m.Target)
			result := Result{
				Tier:       0,
				Action:     m.Action,
				Target:     m.Target,
				Args:       m.Args,
				Confidence: m.Confidence,
			}
			d.logDecision(result, start, nil)
			return result, nil
		}
	}

	// Tier 1 — micro model classification.
	var tier1Context state.Delta
	if d.tier1Call != nil && d.acquire(ctx, tier1Sem, 1) {
		var result *Result
		func() {
			defer tier1Sem.Release(1)
			result, tier1Context = d.tier1Classify(ctx, clean)
		}()
		if result != nil {
			d.logDecision(*result, start, tier1Context)
			return *result, nil
		}
	}

	// Tier 2 — light model reasoning.
	if d.tier2Call != nil && d.acquire(ctx, tier2Sem, 2) {
		var result *Result
		func() {
			defer tier2Sem.Release(1)
			result = d.tier2Reason(ctx, clean, tier1Context)
		}()
		if result != nil {
			d.logDecision(*result, start, nil)
			return *result, nil
		}
	}

	// Tier 3 — frontier provider pool with failover.
	if d.providers != nil {
		result, err := d.tier3Frontier(ctx, clean, tier1Context)
		if err != nil {
			return Result{}, err
		}
		d.logDecision(*result, start, nil)
		return *result, nil
	}

	// No tier could answer.
	d.logger.Info("no match at any tier, escalation needed")
	result := Result{Tier: -1, Action: "needs_escalation"}
	d.logDecision(result, start, nil)
	return result, nil
}

// logDecision records router metrics for one dispatch outcome.
func (d *Dispatcher) logDecision(result Result, start time.Time, tier1Context state.Delta) {
	sample := metrics.RoutingSample{
		RequestTier: 0, // dispatch always starts at tier 0
		ChosenTier:  result.Tier,
		Provider:    result.Provider,
		Escalated:   result.Tier == -1,
		LatencyMS:   float64(time.Since(start).Milliseconds()),
	}
	if tier1Context != nil {
		quality := tier1Context.Float("confidence", 0)
		sample.Quality = &quality
	}
	d.collector.RecordRoutingDecision(sample)
}

// callWithTimeout runs call on a worker goroutine and awaits with a
// timeout. On expiry the tier is treated as failed; the worker may continue
// until its HTTP response is discarded.
func callWithTimeout(ctx context.Context, timeout time.Duration, call agent.Call, system, user string) (adapter.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		resp adapter.Response
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		resp, err := call(callCtx, system, user)
		ch <- outcome{resp, err}
	}()
	select {
	case <-callCtx.Done():
		return adapter.Response{}, fmt.Errorf("dispatch: call timed out after %s: %w", timeout, callCtx.Err())
	case out := <-ch:
		return out.resp, out.err
	}
}
