package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kumo/internal/budget"
	"github.com/ashita-ai/kumo/internal/graph"
	"github.com/ashita-ai/kumo/internal/model"
	"github.com/ashita-ai/kumo/internal/state"
)

// persistRunStart records the run row. Best-effort.
func (o *Orchestrator) persistRunStart(ctx context.Context, runUUID *uuid.UUID, g *graph.Graph, st state.State) {
	if o.store == nil || runUUID == nil {
		return
	}
	run := model.Run{
		ID:        *runUUID,
		GraphID:   g.ID,
		ScopeType: st.String("scope_type", ""),
		ScopeID:   st.String("scope_id", ""),
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		o.logger.Warn("failed to persist run start", "error", err.Error())
	}
}

// persistRunEnd updates the run row with its terminal status. Best-effort.
func (o *Orchestrator) persistRunEnd(ctx context.Context, runUUID *uuid.UUID, g *graph.Graph, st state.State, ledger *budget.Ledger, status model.RunStatus, started time.Time, errText string) {
	if o.store == nil || runUUID == nil {
		return
	}
	completed := time.Now().UTC()
	run := model.Run{
		ID:          *runUUID,
		GraphID:     g.ID,
		ScopeType:   st.String("scope_type", ""),
		ScopeID:     st.String("scope_id", ""),
		Status:      status,
		StartedAt:   started.UTC(),
		CompletedAt: &completed,
		TokensIn:    int64(ledger.TokensIn),
		TokensOut:   int64(ledger.TokensOut),
		CostUSD:     ledger.CostUSD,
		NeedsReview: ledger.NeedsHumanReview,
	}
	if errText != "" {
		run.Error = &errText
	}
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.logger.Warn("failed to persist run end", "error", err.Error())
	}
}

// persistEvent appends a run event. Best-effort.
func (o *Orchestrator) persistEvent(ctx context.Context, event model.RunEvent) {
	if o.store == nil || event.RunID == uuid.Nil {
		return
	}
	if err := o.store.AppendRunEvent(ctx, event); err != nil {
		o.logger.Warn("failed to persist run event", "error", err.Error())
	}
}
