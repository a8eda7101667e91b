package router

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashita-ai/kumo/internal/adapter"
	"github.com/ashita-ai/kumo/internal/agent"
	"github.com/ashita-ai/kumo/internal/provider"
	"github.com/ashita-ai/kumo/internal/state"
)

// RoutingFailure means every candidate at a tier was exhausted.
type RoutingFailure struct {
	Tier  int
	Tried []string
}

func (e *RoutingFailure) Error() string {
	return fmt.Sprintf("router: tier %d exhausted (tried: %s)", e.Tier, strings.Join(e.Tried, ", "))
}

// Decision is the outcome of SelectModel for one agent invocation.
type Decision struct {
	Tier        int
	AdapterName string
	Provider    string
	Reason      string
	Escalated   bool
	Confidence  float64
	Complexity  float64
	// CostPer1KIn/Out carry the chosen provider's rates for budget
	// accounting; zero for local tiers.
	CostPer1KIn  float64
	CostPer1KOut float64
}

// Router selects a tier and concrete adapter per agent invocation. Config
// can be hot-reloaded; adapters are registered once and never replaced by a
// reload.
type Router struct {
	mu        sync.RWMutex
	cfg       Config
	adapters  map[string]adapter.Adapter
	providers *provider.Registry
	logger    *slog.Logger
}

// New creates a router with the given config and provider registry.
func New(cfg Config, providers *provider.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		adapters:  make(map[string]adapter.Adapter),
		providers: providers,
		logger:    logger,
	}
}

// Config returns a copy of the current configuration.
func (r *Router) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// RegisterAdapter installs a named adapter for tier-1/tier-2 calls.
// Conventional names: "micro" (tier 1), "light" (tier 2), "local".
func (r *Router) RegisterAdapter(name string, a adapter.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
}

// ReloadConfig re-reads thresholds and tier configs from path atomically.
// Registered adapters are kept.
func (r *Router) ReloadConfig(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	r.logger.Info("router config reloaded",
		"min_confidence", cfg.Escalation.MinConfidence,
		"score_threshold", cfg.Score.Threshold)
	return nil
}

// adapterForTier maps an escalation tier to the conventional adapter name.
func adapterForTier(tier int) string {
	switch tier {
	case 1:
		return "micro"
	case 2:
		return "light"
	}
	return "local"
}

// SelectModel chooses the tier and adapter for one agent invocation given
// its policy and the escalation signals in run state.
func (r *Router) SelectModel(pol agent.Policy, st state.State) (Decision, error) {
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	// Deterministic agents never get a model.
	if pol.PreferredTier == 0 {
		return Decision{Tier: 0, Reason: "deterministic agent"}, nil
	}

	// Escalation signals from run state.
	confidence := st.Float(state.KeyLastConfidence, 1.0)
	complexity := st.Float(state.KeySynthesisComplexity, 0.5)
	missingCitations := st.Int(state.KeyMissingCitations, 0)
	ambiguity := st.Float(state.KeyContradictionAmbig, 0)

	risk := hallucinationRisk(missingCitations, ambiguity)
	score := Score(complexity, confidence, risk, cfg.Score)

	minConfidence := cfg.Escalation.MinConfidence
	if pol.ConfidenceThreshold > 0 {
		minConfidence = pol.ConfidenceThreshold
	}

	tier := pol.PreferredTier
	reason := "preferred tier"
	escalated := false
	switch {
	case score > cfg.Score.Threshold:
		tier++
		escalated = true
		reason = fmt.Sprintf("composite score %.2f above threshold %.2f", score, cfg.Score.Threshold)
	case confidence < minConfidence:
		tier++
		escalated = true
		reason = fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, minConfidence)
	case complexity >= cfg.Escalation.ComplexityThreshold:
		tier++
		escalated = true
		reason = fmt.Sprintf("complexity %.2f at threshold %.2f", complexity, cfg.Escalation.ComplexityThreshold)
	}
	if tier < pol.MinTier {
		tier = pol.MinTier
		reason = fmt.Sprintf("raised to policy min tier %d", pol.MinTier)
	}
	if tier > 3 {
		tier = 3
	}

	decision := Decision{
		Tier:       tier,
		Reason:     reason,
		Escalated:  escalated,
		Confidence: confidence,
		Complexity: complexity,
	}

	if tier < 3 {
		decision.AdapterName = adapterForTier(tier)
		r.logger.Info("routing decision",
			"tier", tier, "adapter", decision.AdapterName, "reason", reason)
		return decision, nil
	}

	// Tier 3: pick from the frontier pool.
	entry, err := r.selectProvider(cfg, pol, st)
	if err != nil {
		return Decision{}, err
	}
	decision.Provider = entry.Name
	decision.AdapterName = entry.Name
	decision.CostPer1KIn = entry.CostPer1KIn
	decision.CostPer1KOut = entry.CostPer1KOut
	r.logger.Info("routing decision",
		"tier", tier, "provider", entry.Name, "reason", reason)
	return decision, nil
}

// selectProvider asks the registry for a tier-3 provider meeting the
// policy's needs.
func (r *Router) selectProvider(cfg Config, pol agent.Policy, st state.State) (*provider.Entry, error) {
	if r.providers == nil {
		return nil, &RoutingFailure{Tier: 3}
	}
	req := provider.Requirements{
		MinContext: estimateStateTokens(st) + pol.MaxTokens(3),
	}
	entry := r.providers.SelectWithFallback(req, cfg.Strategy, nil)
	if entry == nil {
		return nil, &RoutingFailure{Tier: 3}
	}
	return entry, nil
}

// Callable returns the concrete call closure for a decision. Tier-0
// decisions have no callable (nil, nil).
func (r *Router) Callable(d Decision) (agent.Call, error) {
	if d.Tier == 0 {
		return nil, nil
	}
	r.mu.RLock()
	a, ok := r.adapters[d.AdapterName]
	r.mu.RUnlock()
	if !ok && r.providers != nil {
		if entry := r.providers.Get(d.AdapterName); entry != nil {
			a, ok = entry.Adapter, entry.Adapter != nil
		}
	}
	if !ok || a == nil {
		return nil, fmt.Errorf("router: no adapter registered for %q", d.AdapterName)
	}
	return a.Call, nil
}

// estimateStateTokens approximates the prompt size an agent will build from
// the current state, for max-context filtering.
func estimateStateTokens(st state.State) int {
	total := 0
	for _, v := range st {
		if s, ok := v.(string); ok {
			total += len(s) / 4
		}
	}
	return total
}
