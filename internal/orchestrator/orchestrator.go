// Package orchestrator walks a graph of agent nodes, carrying run state
// between them under budget, retry, and failure-routing constraints, with
// checkpointing for resume.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
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

// maxOnFailCycles caps how many times a node may trigger its on_fail jump,
// preventing unbounded recovery loops.
const maxOnFailCycles = 3

// NodeError is a generic node failure surfaced after retries.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Store is the persistence surface the orchestrator writes through. All
// writes, run creation included, are best-effort: failures are logged, never
// fatal.
type Store interface {
	CreateRun(ctx context.Context, run model.Run) error
	UpdateRun(ctx context.Context, run model.Run) error
	AppendRunEvent(ctx context.Context, event model.RunEvent) error
	InsertRoutingDecision(ctx context.Context, decision model.RoutingDecision) error
}

// Options configures an Orchestrator. Agents is required; everything else
// is optional.
type Options struct {
	Agents    *agent.Registry
	Router    *router.Router
	Store     Store
	Metrics   *metrics.Collector
	// DefaultCall is used when no router is attached or a routed adapter
	// is missing.
	DefaultCall   agent.Call
	CheckpointDir string
	Logger        *slog.Logger
}

// Orchestrator executes graphs. One orchestrator may serve many sequential
// runs; each run's state is owned by the single walking goroutine.
type Orchestrator struct {
	agents        *agent.Registry
	routerRef     *router.Router
	store         Store
	collector     *metrics.Collector
	defaultCall   agent.Call
	checkpointDir string
	logger        *slog.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}
	checkpointDir := opts.CheckpointDir
	if checkpointDir == "" {
		checkpointDir = ".checkpoints"
	}
	return &Orchestrator{
		agents:        opts.Agents,
		routerRef:     opts.Router,
		store:         opts.Store,
		collector:     collector,
		defaultCall:   opts.DefaultCall,
		checkpointDir: checkpointDir,
		logger:        logger,
	}
}

// RunResult is the outcome of a graph run.
type RunResult struct {
	RunID  string
	Status model.RunStatus
	State  state.State
	Events []model.RunEvent
	Budget *budget.Ledger
}

// Execute runs a graph to completion starting at its entry node.
func (o *Orchestrator) Execute(ctx context.Context, g *graph.Graph, st state.State, ledger *budget.Ledger) (RunResult, error) {
	return o.run(ctx, g, st, ledger, g.Entry)
}

// Resume re-enters a checkpointed run at the node after the last completed
// one. The graph must be the same definition the run started with.
func (o *Orchestrator) Resume(ctx context.Context, g *graph.Graph, runID string, ledger *budget.Ledger) (RunResult, error) {
	lastNode, st, err := o.loadCheckpoint(runID)
	if err != nil {
		return RunResult{}, err
	}
	node, err := g.Node(lastNode)
	if err != nil {
		return RunResult{}, &graph.DefinitionError{
			GraphID: g.ID,
			Reason:  fmt.Sprintf("cannot resume: checkpointed node %q not in graph", lastNode),
		}
	}
	if node.End {
		return RunResult{RunID: runID, Status: model.RunSucceeded, State: st, Budget: ledger}, nil
	}
	return o.run(ctx, g, st, ledger, node.Next)
}

// run walks the graph from entry, retrying, routing failures, budgeting,
// and checkpointing per node.
func (o *Orchestrator) run(ctx context.Context, g *graph.Graph, st state.State, ledger *budget.Ledger, entry string) (RunResult, error) {
	if missing := st.Validate(); len(missing) > 0 {
		return RunResult{}, &graph.DefinitionError{
			GraphID: g.ID,
			Reason:  fmt.Sprintf("initial state missing required keys: %v", missing),
		}
	}
	if ledger == nil {
		ledger = budget.NewLedger(0, 0, 0)
	}

	runID := st.String("run_id", "")
	runUUID := parseRunID(runID)
	started := time.Now()
	o.persistRunStart(ctx, runUUID, g, st)

	result := RunResult{RunID: runID, State: st, Budget: ledger}
	onFailCounts := map[string]int{}
	current := entry
	step := 0

	for current != "" {
		step++
		node, err := g.Node(current)
		if err != nil {
			return result, err
		}
		o.logger.Info("node starting", "step", step, "node", node.Name, "agent", node.Agent, "run_id", runID)

		// Degradation hints flow to agents through reserved state keys.
		if hint := ledger.DegradationHint(); hint != nil {
			st[state.KeyDegradation] = map[string]any{
				"active":              true,
				"max_sources":         hint.MaxSources,
				"max_questions":       hint.MaxQuestions,
				"skip_deep_synthesis": hint.SkipDeepSynthesis,
				"reason":              hint.Reason,
			}
			st[state.KeyDegradationActive] = true
		}

		event := o.executeNode(ctx, g, node, st, ledger, runUUID)
		result.Events = append(result.Events, event)
		o.persistEvent(ctx, event)

		switch event.Status {
		case model.EventSuccess:
			o.checkpoint(runID, node.Name, st)
			if node.End {
				o.logger.Info("node completed [end]", "step", step, "node", node.Name)
				current = ""
			} else {
				o.logger.Info("node completed", "step", step, "node", node.Name, "next", node.Next)
				current = node.Next
			}

		case model.EventBudgetDegraded:
			ledger.FlagHumanReview(fmt.Sprintf("budget degraded at node %q: %s", node.Name, event.Error))
			o.checkpoint(runID, node.Name, st)
			if node.End {
				current = ""
			} else {
				current = node.Next
			}

		case model.EventFailed:
			if node.OnFail == "" {
				o.logger.Error("node failed with no on_fail, aborting", "node", node.Name, "error", event.Error)
				result.Status = model.RunFailed
				o.persistRunEnd(ctx, runUUID, g, st, ledger, result.Status, started, event.Error)
				return result, nil
			}
			onFailCounts[node.Name]++
			if onFailCounts[node.Name] > maxOnFailCycles {
				o.logger.Error("node exceeded max on_fail cycles, aborting",
					"node", node.Name, "cycles", maxOnFailCycles)
				result.Status = model.RunFailed
				o.persistRunEnd(ctx, runUUID, g, st, ledger, result.Status, started, event.Error)
				return result, nil
			}
			o.logger.Warn("node failed, routing to on_fail",
				"node", node.Name, "cycle", onFailCounts[node.Name], "on_fail", node.OnFail)
			markEscalated(st, node.OnFail)
			current = node.OnFail
		}
	}

	result.Status = model.RunSucceeded
	if ledger.DegradationActive {
		result.Status = model.RunDegraded
	}
	o.persistRunEnd(ctx, runUUID, g, st, ledger, result.Status, started, "")
	o.collector.RecordRunDuration(time.Since(started).Seconds())
	o.collector.RecordTokens(int64(ledger.TokensIn + ledger.TokensOut))
	return result, nil
}

// markEscalated records that target was reached through a failure path, so
// routing may escalate it to a frontier model.
func markEscalated(st state.State, target string) {
	escalated, _ := st[state.KeyEscalatedNodes].(map[string]bool)
	if escalated == nil {
		escalated = map[string]bool{}
	}
	escalated[target] = true
	st[state.KeyEscalatedNodes] = escalated
}

func parseRunID(runID string) *uuid.UUID {
	if id, err := uuid.Parse(runID); err == nil {
		return &id
	}
	return nil
}

// wrapCall instruments a model callable with budget and telemetry
// accounting for one node.
func wrapCall(call agent.Call, ledger *budget.Ledger, decision *router.Decision, nodeID string, st state.State) agent.Call {
	if call == nil {
		return nil
	}
	return func(ctx context.Context, systemPrompt, userMessage string) (adapter.Response, error) {
		resp, err := call(ctx, systemPrompt, userMessage)
		if err != nil {
			return resp, err
		}
		var cost float64
		if decision != nil {
			cost = float64(resp.TokensIn)/1000*decision.CostPer1KIn +
				float64(resp.TokensOut)/1000*decision.CostPer1KOut
		}
		ledger.Record(resp.TokensIn, resp.TokensOut, cost, nodeID)
		st[state.KeyBudgetUsedTokens] = ledger.TokensIn + ledger.TokensOut
		st[state.KeyBudgetUsedCost] = ledger.CostUSD
		return resp, nil
	}
}
