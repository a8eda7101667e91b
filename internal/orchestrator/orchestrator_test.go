package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kumo/internal/agent"
	"github.com/ashita-ai/kumo/internal/budget"
	"github.com/ashita-ai/kumo/internal/graph"
	"github.com/ashita-ai/kumo/internal/model"
	"github.com/ashita-ai/kumo/internal/state"
	"github.com/ashita-ai/kumo/internal/testutil"
)

// funcAgent builds a deterministic test agent.
func funcAgent(id string, fn func(ctx context.Context, st state.State) (state.Delta, error)) *agent.Func {
	return &agent.Func{AgentID: id, AgentVersion: "test", Fn: fn}
}

// linearGraph builds a two-node graph: produce -> consume(end).
func linearGraph() *graph.Graph {
	g := &graph.Graph{
		ID:    "test",
		Entry: "produce",
		Nodes: map[string]*graph.Node{
			"produce": {
				Name: "produce", Agent: "producer",
				Outputs: []string{"value"},
				Next:    "consume",
				Retry:   graph.Retry{MaxAttempts: 1},
			},
			"consume": {
				Name: "consume", Agent: "consumer",
				Inputs: []string{"value"},
				Retry:  graph.Retry{MaxAttempts: 1},
				End:    true,
			},
		},
	}
	return g
}

func newTestOrchestrator(t *testing.T, agents ...agent.Agent) *Orchestrator {
	t.Helper()
	reg := agent.NewRegistry()
	for _, a := range agents {
		reg.Register(a)
	}
	return New(Options{
		Agents:        reg,
		CheckpointDir: t.TempDir(),
		Logger:        testutil.DiscardLogger(),
	})
}

func initialState(runID string) state.State {
	return state.New("cert", "az-104", runID, "test", nil)
}

func TestLinearRunMergesDeltas(t *testing.T) {
	producer := funcAgent("producer", func(_ context.Context, _ state.State) (state.Delta, error) {
		return state.Delta{"value": 42}, nil
	})
	var seen any
	consumer := funcAgent("consumer", func(_ context.Context, st state.State) (state.Delta, error) {
		seen = st["value"]
		return state.Delta{"consumed": true}, nil
	})

	o := newTestOrchestrator(t, producer, consumer)
	result, err := o.Execute(context.Background(), linearGraph(), initialState("run-1"), nil)
	require.NoError(t, err)

	assert.Equal(t, model.RunSucceeded, result.Status)
	assert.Equal(t, 42, seen, "node i's delta must be visible to node i+1")
	assert.Equal(t, true, result.State["consumed"])
	assert.Len(t, result.Events, 2)
}

func TestMergeMonotonicity(t *testing.T) {
	producer := funcAgent("producer", func(_ context.Context, _ state.State) (state.Delta, error) {
		return state.Delta{"value": "kept"}, nil
	})
	consumer := funcAgent("consumer", func(_ context.Context, _ state.State) (state.Delta, error) {
		return state.Delta{"extra": 1}, nil
	})

	o := newTestOrchestrator(t, producer, consumer)
	before := initialState("run-mono")
	snapshot := map[string]any{}
	for k, v := range before {
		snapshot[k] = v
	}

	result, err := o.Execute(context.Background(), linearGraph(), before, nil)
	require.NoError(t, err)
	for k, v := range snapshot {
		if k == "artifacts" {
			continue
		}
		assert.Equal(t, v, result.State[k], "pre-existing key %q must survive the run", k)
	}
	assert.Equal(t, "kept", result.State["value"])
}

func TestMissingInputIsFatal(t *testing.T) {
	consumer := funcAgent("consumer", func(_ context.Context, _ state.State) (state.Delta, error) {
		return state.Delta{}, nil
	})
	g := &graph.Graph{
		ID:    "needs-input",
		Entry: "consume",
		Nodes: map[string]*graph.Node{
			"consume": {
				Name: "consume", Agent: "consumer",
				Inputs: []string{"never_set"},
				End:    true,
			},
		},
	}
	o := newTestOrchestrator(t, consumer)
	result, err := o.Execute(context.Background(), g, initialState("run-missing"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, result.Status)
	assert.Contains(t, result.Events[0].Error, "never_set")
}

func TestRetryThenOnFailRouting(t *testing.T) {
	attempts := 0
	flaky := funcAgent("flaky", func(_ context.Context, _ state.State) (state.Delta, error) {
		attempts++
		return nil, &agent.ValidationError{AgentID: "flaky", Reason: "bad output"}
	})
	recovered := funcAgent("recoverer", func(_ context.Context, _ state.State) (state.Delta, error) {
		return state.Delta{"recovered": true}, nil
	})

	g := &graph.Graph{
		ID:    "retry-onfail",
		Entry: "flaky_node",
		Nodes: map[string]*graph.Node{
			"flaky_node": {
				Name: "flaky_node", Agent: "flaky",
				Next:   "never",
				OnFail: "extract_claims",
				Retry:  graph.Retry{MaxAttempts: 2, BackoffSeconds: 0},
			},
			"never": {
				Name: "never", Agent: "recoverer", End: true,
			},
			"extract_claims": {
				Name: "extract_claims", Agent: "recoverer", End: true,
			},
		},
	}

	o := newTestOrchestrator(t, flaky, recovered)
	result, err := o.Execute(context.Background(), g, initialState("run-onfail"), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, attempts, "retry policy gives the node two attempts")
	assert.Equal(t, model.RunSucceeded, result.Status)
	assert.Equal(t, true, result.State["recovered"], "on_fail must route to extract_claims")
}

func TestOnFailCycleCap(t *testing.T) {
	alwaysFails := funcAgent("bad", func(_ context.Context, _ state.State) (state.Delta, error) {
		return nil, &agent.ValidationError{AgentID: "bad", Reason: "no"}
	})
	g := &graph.Graph{
		ID:    "loop",
		Entry: "a",
		Nodes: map[string]*graph.Node{
			"a": {Name: "a", Agent: "bad", OnFail: "a", Next: "b"},
			"b": {Name: "b", Agent: "bad", End: true},
		},
	}
	o := newTestOrchestrator(t, alwaysFails)
	result, err := o.Execute(context.Background(), g, initialState("run-loop"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, result.Status, "on_fail loops are capped")
	assert.Len(t, result.Events, maxOnFailCycles+1)
}

func TestBudgetDegradation(t *testing.T) {
	hungry := funcAgent("hungry", func(_ context.Context, st state.State) (state.Delta, error) {
		return state.Delta{"out": 1}, nil
	})
	g := &graph.Graph{
		ID:    "budget",
		Entry: "n1",
		Nodes: map[string]*graph.Node{
			"n1": {Name: "n1", Agent: "hungry", Next: "n2"},
			"n2": {Name: "n2", Agent: "hungry", End: true},
		},
	}
	o := newTestOrchestrator(t, hungry)

	ledger := budget.NewLedger(100, 0, 0)
	ledger.Record(200, 0, 0, "") // blow the cap before the run starts

	result, err := o.Execute(context.Background(), g, initialState("run-budget"), ledger)
	require.NoError(t, err)

	assert.Equal(t, model.RunDegraded, result.Status)
	assert.True(t, ledger.NeedsHumanReview)
	require.NotEmpty(t, result.Events)
	assert.Equal(t, model.EventBudgetDegraded, result.Events[0].Status)
}

func TestQAGateFailRoutesOnFail(t *testing.T) {
	gate := funcAgent("gate", func(_ context.Context, st state.State) (state.Delta, error) {
		if st.Bool("fixed") {
			return state.Delta{"gate_status": "PASS", "violations": []any{}}, nil
		}
		return state.Delta{
			"gate_status": "FAIL",
			"violations":  []any{map[string]any{"rule": "claim_requires_citations"}},
		}, nil
	})
	fixer := funcAgent("fixer", func(_ context.Context, _ state.State) (state.Delta, error) {
		return state.Delta{"fixed": true}, nil
	})
	g := &graph.Graph{
		ID:    "qa",
		Entry: "gate_node",
		Nodes: map[string]*graph.Node{
			"gate_node": {Name: "gate_node", Agent: "gate", OnFail: "fix", End: true},
			"fix":       {Name: "fix", Agent: "fixer", Next: "gate_node"},
		},
	}
	o := newTestOrchestrator(t, gate, fixer)
	result, err := o.Execute(context.Background(), g, initialState("run-qa"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, result.Status)
	assert.Equal(t, "PASS", result.State["gate_status"])
}

func TestCheckpointResumeDeterminism(t *testing.T) {
	dir := t.TempDir()
	reg := agent.NewRegistry()

	calls := map[string]int{}
	reg.Register(funcAgent("s1", func(_ context.Context, _ state.State) (state.Delta, error) {
		calls["s1"]++
		return state.Delta{"step1": "done"}, nil
	}))
	failSecond := true
	reg.Register(funcAgent("s2", func(_ context.Context, _ state.State) (state.Delta, error) {
		calls["s2"]++
		if failSecond {
			return nil, &agent.ValidationError{AgentID: "s2", Reason: "interrupted"}
		}
		return state.Delta{"step2": "done"}, nil
	}))

	g := &graph.Graph{
		ID:    "resume",
		Entry: "n1",
		Nodes: map[string]*graph.Node{
			"n1": {Name: "n1", Agent: "s1", Next: "n2"},
			"n2": {Name: "n2", Agent: "s2", End: true},
		},
	}
	o := New(Options{
		Agents:        reg,
		CheckpointDir: dir,
		Logger:        testutil.DiscardLogger(),
	})

	// First run fails at n2; n1's checkpoint survives.
	result, err := o.Execute(context.Background(), g, initialState("run-resume"), nil)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, result.Status)

	// Resume re-enters at n2 without re-running n1.
	failSecond = false
	resumed, err := o.Resume(context.Background(), g, "run-resume", nil)
	require.NoError(t, err)

	assert.Equal(t, model.RunSucceeded, resumed.Status)
	assert.Equal(t, 1, calls["s1"], "resume must not re-run completed nodes")
	assert.Equal(t, 2, calls["s2"])
	assert.Equal(t, "done", resumed.State["step1"], "checkpointed state carries forward")
	assert.Equal(t, "done", resumed.State["step2"])

	// Determinism: an uninterrupted run over the same agents produces the
	// same semantic state.
	fresh, err := o.Execute(context.Background(), g, initialState("run-straight"), nil)
	require.NoError(t, err)
	for _, key := range []string{"step1", "step2", "scope_type", "scope_id", "graph_id"} {
		assert.Equal(t, fresh.State[key], resumed.State[key], "key %q must match", key)
	}
}

func TestUndeclaredOutputFailsNode(t *testing.T) {
	lazy := funcAgent("lazy", func(_ context.Context, _ state.State) (state.Delta, error) {
		return state.Delta{"unrelated": 1}, nil
	})
	g := &graph.Graph{
		ID:    "outputs",
		Entry: "n1",
		Nodes: map[string]*graph.Node{
			"n1": {Name: "n1", Agent: "lazy", Outputs: []string{"value"}, End: true},
		},
	}
	o := newTestOrchestrator(t, lazy)
	result, err := o.Execute(context.Background(), g, initialState("run-outputs"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, result.Status)
	assert.Contains(t, result.Events[0].Error, "declared outputs")
}

func TestInitialStateValidation(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Execute(context.Background(), linearGraph(), state.State{"run_id": "x"}, nil)
	var defErr *graph.DefinitionError
	require.ErrorAs(t, err, &defErr)
	assert.Contains(t, defErr.Reason, "missing required keys")
}

func TestRunStateOwnership(t *testing.T) {
	// The escalated-nodes marker set by a failure is visible to routing on
	// the on_fail target.
	var sawEscalated bool
	failOnce := true
	a := funcAgent("maybe", func(_ context.Context, st state.State) (state.Delta, error) {
		if failOnce {
			failOnce = false
			return nil, fmt.Errorf("first pass fails")
		}
		escalated, _ := st[state.KeyEscalatedNodes].(map[string]bool)
		sawEscalated = escalated["again"]
		return state.Delta{"ok": true}, nil
	})
	g := &graph.Graph{
		ID:    "esc",
		Entry: "first",
		Nodes: map[string]*graph.Node{
			"first": {Name: "first", Agent: "maybe", OnFail: "again", Next: "again"},
			"again": {Name: "again", Agent: "maybe", End: true},
		},
	}
	o := newTestOrchestrator(t, a)
	result, err := o.Execute(context.Background(), g, initialState("run-esc"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, result.Status)
	assert.True(t, sawEscalated)
}
