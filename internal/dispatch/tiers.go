package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashita-ai/kumo/internal/adapter"
	"github.com/ashita-ai/kumo/internal/agent"
	"github.com/ashita-ai/kumo/internal/provider"
	"github.com/ashita-ai/kumo/internal/router"
	"github.com/ashita-ai/kumo/internal/state"
)

// tier1Classify runs the micro-router classification. It returns a Result
// when tier 1 can resolve (or rejects) the request, plus the classification
// delta for tier 2's context. A nil Result escalates. Timeouts and parse
// failures are retried with a fresh classification each time.
func (d *Dispatcher) tier1Classify(ctx context.Context, request string) (*Result, state.Delta) {
	d.mu.RLock()
	timeout := d.tier1Timeout
	confidenceThreshold := d.confidenceThreshold
	d.mu.RUnlock()

	micro := agent.NewMicroRouter()
	st := state.State{
		"request_text":      request,
		"available_actions": []string{"execute_graph", "answer_question", "analyze"},
		"available_graphs":  d.graphs,
	}

	var delta state.Delta
	var err error
	for attempt := 0; attempt < 1+maxTier1Retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		delta, err = micro.Run(callCtx, st, d.tier1Call)
		cancel()
		if err == nil {
			break
		}
		d.logger.Warn("tier 1 classification failed",
			"attempt", attempt+1, "error", err.Error())
	}
	if err != nil {
		d.logger.Info("tier 1 exhausted retries, escalating")
		return nil, nil
	}

	// Safety bypass — a flagged request never reaches a higher tier.
	if delta.Bool("safety_flag") {
		reason := delta.String("safety_reason", "flagged by tier 1 classifier")
		d.logger.Warn("tier 1 safety flag", "reason", reason)
		return &Result{
			Tier:          1,
			Action:        "rejected",
			Confidence:    delta.Float("confidence", 1.0),
			ModelResponse: marshalDelta(delta),
			SafetyFlagged: true,
			SafetyReason:  reason,
		}, delta
	}

	confidence := delta.Float("confidence", 0)
	complexity := delta.Float("complexity_score", 0.5)
	recommendedTier := delta.Int("recommended_tier", 2)

	weights := router.DefaultScoreWeights()
	if d.routerRef != nil {
		weights = d.routerRef.Config().Score
	}
	score := router.Score(complexity, confidence, 0, weights)

	// Tier 1 resolves only when it recommends itself, clears the confidence
	// bar, and the composite score stays low.
	if recommendedTier == 1 && confidence >= confidenceThreshold && score <= weights.Threshold {
		d.logger.Info("tier 1 resolved",
			"action", delta.String("action", ""), "confidence", confidence)
		return &Result{
			Tier:          1,
			Action:        delta.String("action", ""),
			Target:        delta.String("target", ""),
			Args:          map[string]any{"intent": delta.String("intent", "")},
			Confidence:    confidence,
			ModelResponse: marshalDelta(delta),
		}, delta
	}

	d.logger.Info("tier 1 escalating",
		"recommended_tier", recommendedTier, "confidence", confidence)
	return nil, delta
}

// tier2SystemPrompt is the light-reasoner contract.
const tier2SystemPrompt = "You are a reasoning agent. Given a user request and optional classification context, " +
	"provide a structured response with your analysis.\n\n" +
	"Output a JSON object with these fields:\n" +
	"- reasoning: string, your analysis of the request\n" +
	"- action: string, the recommended action\n" +
	"- target: string, the target (if applicable)\n" +
	"- quality_score: float 0.0-1.0, your confidence in the quality of your response\n" +
	"- reasoning_depth: integer 1-5, how deep the reasoning needed to be\n" +
	"- escalate: boolean, true if this needs a more capable model\n\n" +
	"Output valid JSON only."

type tier2Response struct {
	Reasoning      string  `json:"reasoning"`
	Action         string  `json:"action"`
	Target         string  `json:"target"`
	QualityScore   float64 `json:"quality_score"`
	ReasoningDepth int     `json:"reasoning_depth"`
	Escalate       bool    `json:"escalate"`
}

// tier2Reason runs the light reasoner with tier-1 context. A nil Result
// escalates to tier 3.
func (d *Dispatcher) tier2Reason(ctx context.Context, request string, tier1Context state.Delta) *Result {
	d.mu.RLock()
	timeout := d.tier2Timeout
	qualityThreshold := d.qualityThreshold
	d.mu.RUnlock()

	depthThreshold := router.DefaultConfig().Escalation.ReasoningDepthThreshold
	if d.routerRef != nil {
		depthThreshold = d.routerRef.Config().Escalation.ReasoningDepthThreshold
	}

	user := fmt.Sprintf("Request: %s%s", request, tier2ContextSection(tier1Context))

	resp, err := callWithTimeout(ctx, timeout, d.tier2Call, tier2SystemPrompt, user)
	if err != nil {
		d.logger.Warn("tier 2 reasoning failed, escalating", "error", err.Error())
		return nil
	}

	var data tier2Response
	candidate := agent.ExtractJSON(resp.Text)
	if err := json.Unmarshal([]byte(candidate), &data); err != nil {
		if err = json.Unmarshal([]byte(agent.Repair(candidate)), &data); err != nil {
			d.logger.Warn("tier 2 response failed to parse", "error", err.Error())
			return nil
		}
	}

	deepReasoning := data.ReasoningDepth >= depthThreshold
	if data.QualityScore >= qualityThreshold && !data.Escalate && !deepReasoning {
		d.logger.Info("tier 2 resolved",
			"quality", data.QualityScore, "depth", data.ReasoningDepth)
		return &Result{
			Tier:          2,
			Action:        data.Action,
			Target:        data.Target,
			Args:          map[string]any{"reasoning": data.Reasoning},
			Confidence:    data.QualityScore,
			ModelResponse: resp.Text,
		}
	}

	d.logger.Info("tier 2 escalating",
		"quality", data.QualityScore, "depth", data.ReasoningDepth, "escalate", data.Escalate)
	return nil
}

// tier2ContextSection renders tier-1 classification context into the tier-2
// prompt.
func tier2ContextSection(tier1Context state.Delta) string {
	if tier1Context == nil {
		return ""
	}
	return fmt.Sprintf(
		"\nTier 1 classification context:\n"+
			"  Intent: %s\n"+
			"  Complexity: %.2f\n"+
			"  Confidence: %.2f\n"+
			"  Recommended tier: %d\n",
		tier1Context.String("intent", "unknown"),
		tier1Context.Float("complexity_score", 0),
		tier1Context.Float("confidence", 0),
		tier1Context.Int("recommended_tier", 0),
	)
}

// tier3Frontier walks the provider pool best-first, skipping capped or
// paced-out providers, marking transient failures unavailable, until one
// answers. Exhaustion surfaces a RoutingFailure.
func (d *Dispatcher) tier3Frontier(ctx context.Context, request string, tier1Context state.Delta) (*Result, error) {
	d.mu.RLock()
	strategy := d.strategy
	d.mu.RUnlock()

	system := "You are a frontier reasoning agent. Answer the request thoroughly. " +
		"Output a JSON object: {\"answer\": str, \"action\": str, \"target\": str, \"confidence\": float}."
	user := fmt.Sprintf("Request: %s%s", request, tier2ContextSection(tier1Context))

	req := provider.Requirements{MinContext: len(request) / 4}
	tried := map[string]bool{}
	var triedOrder []string

	for {
		entry := d.providers.SelectWithFallback(req, strategy, tried)
		if entry == nil {
			break
		}
		tried[entry.Name] = true
		triedOrder = append(triedOrder, entry.Name)

		if d.providers.CapExceeded(entry.Name) {
			d.logger.Warn("provider daily cap exceeded, skipping", "provider", entry.Name)
			continue
		}
		if d.limiter != nil {
			if ok, err := d.limiter.Allow(ctx, entry.Name); err == nil && !ok {
				d.logger.Warn("provider rate limited, skipping", "provider", entry.Name)
				continue
			}
		}

		resp, err := callWithTimeout(ctx, tier3CallTimeout, entry.Adapter.Call, system, user)
		if err != nil {
			if isTransient(err) {
				d.providers.MarkUnavailable(entry.Name)
				d.logger.Warn("provider failed, trying next",
					"provider", entry.Name, "error", err.Error())
				continue
			}
			return nil, err
		}

		d.providers.RecordCall(entry.Name)
		d.collector.RecordModelCall(true)

		result := &Result{
			Tier:          3,
			Action:        "answer",
			Provider:      entry.Name,
			ModelResponse: resp.Text,
			Confidence:    0,
		}
		var parsed struct {
			Answer     string  `json:"answer"`
			Action     string  `json:"action"`
			Target     string  `json:"target"`
			Confidence float64 `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(agent.Repair(agent.ExtractJSON(resp.Text))), &parsed); err == nil {
			if parsed.Action != "" {
				result.Action = parsed.Action
			}
			result.Target = parsed.Target
			result.Confidence = parsed.Confidence
			result.Args = map[string]any{"answer": parsed.Answer}
		}
		return result, nil
	}

	return nil, &router.RoutingFailure{Tier: 3, Tried: triedOrder}
}

// isTransient reports whether an adapter error is retryable at the next
// provider.
func isTransient(err error) bool {
	var apiErr *adapter.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	// Timeouts from callWithTimeout wrap context.DeadlineExceeded.
	return errors.Is(err, context.DeadlineExceeded)
}

func marshalDelta(delta state.Delta) string {
	b, err := json.Marshal(delta)
	if err != nil {
		return ""
	}
	return string(b)
}
