package tuner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kumo/internal/model"
	"github.com/ashita-ai/kumo/internal/testutil"
)

func TestAnalyzeEmptyStore(t *testing.T) {
	store := testutil.NewTestStore(t)
	report, err := Analyze(context.Background(), store, Thresholds{Confidence: 0.75, Quality: 0.7})
	require.NoError(t, err)
	assert.Zero(t, report.Decisions)
	assert.Equal(t, []string{"no routing decisions recorded yet"}, report.Recommendations)
}

func TestAnalyzeFlagsEscalationPatterns(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	highConf := 0.9
	lowQuality := 0.4
	now := time.Now().UTC()

	// Over-escalated: confident but sent up anyway.
	for range 3 {
		require.NoError(t, store.InsertRoutingDecision(ctx, model.RoutingDecision{
			ID: uuid.New(), RequestTier: 1, ChosenTier: 2, AgentID: "a",
			Confidence: &highConf, EscalationReason: "composite", CreatedAt: now,
		}))
	}
	// Under-escalated: poor quality that stayed put.
	for range 2 {
		require.NoError(t, store.InsertRoutingDecision(ctx, model.RoutingDecision{
			ID: uuid.New(), RequestTier: 2, ChosenTier: 2, AgentID: "b",
			Quality: &lowQuality, CreatedAt: now,
		}))
	}
	// Expensive frontier call.
	require.NoError(t, store.InsertRoutingDecision(ctx, model.RoutingDecision{
		ID: uuid.New(), RequestTier: 2, ChosenTier: 3, Provider: "cloud_a",
		CostUSD: 1.25, CreatedAt: now,
	}))

	report, err := Analyze(ctx, store, Thresholds{Confidence: 0.75, Quality: 0.7})
	require.NoError(t, err)

	assert.Equal(t, 6, report.Decisions)
	assert.Len(t, report.OverEscalated, 3)
	assert.Len(t, report.UnderEscalated, 2)
	assert.InDelta(t, 4.0/6.0, report.EscalationRate, 1e-9)

	text := Format(report)
	assert.Contains(t, text, "decisions analyzed: 6")
	assert.Contains(t, text, "cloud_a")

	require.NotEmpty(t, report.Recommendations)
	joined := ""
	for _, rec := range report.Recommendations {
		joined += rec + "\n"
	}
	assert.Contains(t, joined, "min_confidence", "3/6 over-escalations must trigger the confidence advice")
	assert.Contains(t, joined, "quality_threshold")
	assert.Contains(t, joined, "cloud_a")
}
