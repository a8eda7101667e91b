package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kumo/internal/adapter"
	"github.com/ashita-ai/kumo/internal/agent"
	"github.com/ashita-ai/kumo/internal/budget"
	"github.com/ashita-ai/kumo/internal/graph"
	"github.com/ashita-ai/kumo/internal/metrics"
	"github.com/ashita-ai/kumo/internal/model"
	"github.com/ashita-ai/kumo/internal/router"
	"github.com/ashita-ai/kumo/internal/state"
)

// executeNode runs a single graph node with retry, producing the event that
// drives the walker's next transition.
func (o *Orchestrator) executeNode(ctx context.Context, g *graph.Graph, node *graph.Node, st state.State, ledger *budget.Ledger, runUUID *uuid.UUID) model.RunEvent {
	event := model.RunEvent{
		ID:        uuid.New(),
		NodeID:    node.Name,
		AgentID:   node.Agent,
		CreatedAt: time.Now().UTC(),
	}
	if runUUID != nil {
		event.RunID = *runUUID
	}

	ag, err := o.agents.Get(node.Agent)
	if err != nil {
		event.Status = model.EventFailed
		event.Error = err.Error()
		return event
	}

	attempts := max(node.Retry.MaxAttempts, 1)
	st[state.KeyCurrentAgentID] = ag.ID()

	// Per-node model selection when a router is attached.
	var decision *router.Decision
	call := o.defaultCall
	if o.routerRef != nil {
		d, selErr := o.routerRef.SelectModel(ag.Policy(), st)
		if selErr != nil {
			// Routing failures are non-retryable node errors.
			event.Status = model.EventFailed
			event.Error = fmt.Sprintf("routing_failure: %v", selErr)
			return event
		}
		decision = &d
		routed, cErr := o.routerRef.Callable(d)
		switch {
		case cErr != nil:
			// Adapter not registered — fall back to the default call.
			o.logger.Warn("routed adapter missing, using default call",
				"node", node.Name, "adapter", d.AdapterName)
		case routed != nil:
			call = routed
		}
	}

	nodeCap := nodeBudgetCap(node)
	wrapped := wrapCall(call, ledger, decision, node.Name, st)

	for attempt := 1; attempt <= attempts; attempt++ {
		event.Attempt = attempt

		// 1. Required inputs must already be in state.
		if missing := st.Has(node.Inputs...); len(missing) > 0 {
			event.Status = model.EventFailed
			event.Error = (&agent.MissingStateError{AgentID: ag.ID(), Keys: missing}).Error()
			return event
		}

		// 2. Budget check with per-node caps.
		if err := ledger.Check(nodeCap); err != nil {
			var exceeded *budget.ExceededError
			if errors.As(err, &exceeded) {
				o.logger.Warn("node budget exceeded", "node", node.Name, "error", err.Error())
				if !ledger.DegradationActive {
					ledger.DegradationActive = true
					ledger.FlagHumanReview(fmt.Sprintf("budget exceeded at node %q: %v", node.Name, err))
				}
				event.Status = model.EventBudgetDegraded
				event.Error = err.Error()
				event.Payload = map[string]any{"budget": ledger.Summary()}
				return event
			}
			event.Status = model.EventFailed
			event.Error = err.Error()
			return event
		}

		// 3. Execute the agent.
		t0 := time.Now()
		delta, runErr := ag.Run(ctx, st, wrapped)
		latency := float64(time.Since(t0).Milliseconds())
		event.LatencyMS = latency

		if runErr == nil {
			st.Merge(delta)

			// Producer nodes must populate their declared output keys
			// before the walk advances.
			if missing := st.Has(node.Outputs...); len(missing) > 0 {
				runErr = fmt.Errorf("node %q did not produce declared outputs: %v", node.Name, missing)
				o.logger.Warn("node outputs missing",
					"node", node.Name, "attempt", attempt, "missing", fmt.Sprint(missing))
				if attempt < attempts {
					sleepBackoff(ctx, node.Retry.Backoff())
					continue
				}
				event.Status = model.EventFailed
				event.Error = runErr.Error()
				return event
			}

			// QA gate: a FAIL with a recovery path routes through on_fail.
			if delta.String("gate_status", "") == "FAIL" && node.OnFail != "" {
				o.collector.RecordQAFailure(ag.ID())
				event.Status = model.EventFailed
				event.Error = fmt.Sprintf("QA gate FAIL: %d violation(s)", violationCount(delta))
				return event
			}

			o.recordRouting(ctx, runUUID, node, ag, decision, latency, ledger)
			event.Status = model.EventSuccess
			event.Payload = map[string]any{"budget": ledger.Summary()}
			return event
		}

		// Failure handling: retry any failure per policy; the retryable
		// flag of an API error is only logged.
		var apiErr *adapter.APIError
		retryable := errors.As(runErr, &apiErr) && apiErr.Retryable
		o.logger.Warn("node attempt failed",
			"node", node.Name, "attempt", attempt, "of", attempts,
			"retryable", retryable, "error", runErr.Error())

		var missingErr *agent.MissingStateError
		if errors.As(runErr, &missingErr) && attempt == 1 {
			// A template placeholder that cannot resolve will not resolve
			// on retry either.
			event.Status = model.EventFailed
			event.Error = runErr.Error()
			return event
		}

		if attempt < attempts {
			sleepBackoff(ctx, node.Retry.Backoff())
			continue
		}
		event.Status = model.EventFailed
		event.Error = runErr.Error()
		return event
	}

	event.Status = model.EventFailed
	event.Error = "exhausted retries"
	return event
}

func violationCount(delta state.Delta) int {
	switch v := delta["violations"].(type) {
	case []map[string]any:
		return len(v)
	case []any:
		return len(v)
	}
	return 0
}

func nodeBudgetCap(node *graph.Node) *budget.NodeCap {
	if node.Budget == nil {
		return nil
	}
	return &budget.NodeCap{
		MaxTokens: node.Budget.MaxTokens,
		MaxCost:   node.Budget.MaxCost,
	}
}

// recordRouting logs the routing decision to metrics and persists it
// best-effort.
func (o *Orchestrator) recordRouting(ctx context.Context, runUUID *uuid.UUID, node *graph.Node, ag agent.Agent, decision *router.Decision, latencyMS float64, ledger *budget.Ledger) {
	if decision == nil {
		return
	}
	tokensIn, tokensOut, cost := ledger.NodeSpend(node.Name)

	o.collector.RecordRoutingDecision(metrics.RoutingSample{
		RequestTier: ag.Policy().PreferredTier,
		ChosenTier:  decision.Tier,
		Provider:    decision.Provider,
		Escalated:   decision.Escalated,
		LatencyMS:   latencyMS,
		CostUSD:     cost,
	})
	if decision.Tier > 0 {
		o.collector.RecordModelCall(decision.Tier == 3)
	}

	if o.store == nil {
		return
	}
	confidence := decision.Confidence
	complexity := decision.Complexity
	row := model.RoutingDecision{
		ID:          uuid.New(),
		RunID:       runUUID,
		NodeID:      node.Name,
		AgentID:     ag.ID(),
		RequestTier: ag.Policy().PreferredTier,
		ChosenTier:  decision.Tier,
		Provider:    decision.Provider,
		Confidence:  &confidence,
		Complexity:  &complexity,
		LatencyMS:   latencyMS,
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
		CostUSD:     cost,
		CreatedAt:   time.Now().UTC(),
	}
	if decision.Escalated {
		row.EscalationReason = decision.Reason
	}
	// Persistence failures must never fail the run.
	if err := o.store.InsertRoutingDecision(ctx, row); err != nil {
		o.logger.Debug("failed to persist routing decision", "error", err.Error())
	}
}

// sleepBackoff waits for the retry backoff or context cancellation.
func sleepBackoff(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
