package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kumo/internal/model"
	"github.com/ashita-ai/kumo/internal/storage"
	"github.com/ashita-ai/kumo/internal/testutil"
)

func TestRunLifecycle(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	run := model.Run{
		ID:        uuid.New(),
		GraphID:   "certification",
		ScopeType: "cert",
		ScopeID:   "az-104",
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateRun(ctx, run))

	completed := time.Now().UTC()
	run.Status = model.RunSucceeded
	run.CompletedAt = &completed
	run.TokensIn = 1200
	run.TokensOut = 400
	run.CostUSD = 0.05
	require.NoError(t, store.UpdateRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, got.Status)
	assert.Equal(t, int64(1200), got.TokensIn)
	require.NotNil(t, got.CompletedAt)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunEventsAppendOnly(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()
	runID := uuid.New()

	for i, status := range []model.EventStatus{model.EventSuccess, model.EventFailed} {
		require.NoError(t, store.AppendRunEvent(ctx, model.RunEvent{
			ID:        uuid.New(),
			RunID:     runID,
			NodeID:    "n1",
			AgentID:   "a1",
			Status:    status,
			Attempt:   i + 1,
			LatencyMS: 12.5,
			Payload:   map[string]any{"k": "v"},
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}))
	}

	events, err := store.ListRunEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventSuccess, events[0].Status)
	assert.Equal(t, "v", events[0].Payload["k"])
}

func TestRoutingDecisionsAndAggregates(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()
	runID := uuid.New()

	conf := 0.8
	rows := []model.RoutingDecision{
		{ID: uuid.New(), RunID: &runID, NodeID: "n1", AgentID: "a", RequestTier: 1, ChosenTier: 1,
			Confidence: &conf, LatencyMS: 10, CreatedAt: time.Now().UTC()},
		{ID: uuid.New(), RunID: &runID, NodeID: "n2", AgentID: "a", RequestTier: 1, ChosenTier: 2,
			EscalationReason: "composite score", CreatedAt: time.Now().UTC().Add(time.Millisecond)},
		{ID: uuid.New(), RunID: &runID, NodeID: "n3", AgentID: "b", RequestTier: 2, ChosenTier: 3,
			Provider: "cloud_a", CostUSD: 0.12, TokensIn: 500, TokensOut: 200,
			CreatedAt: time.Now().UTC().Add(2 * time.Millisecond)},
	}
	for _, d := range rows {
		require.NoError(t, store.InsertRoutingDecision(ctx, d))
	}

	decisions, err := store.ListDecisionsForRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, decisions, 3)
	assert.Equal(t, "n1", decisions[0].NodeID, "decisions come back in call order")
	require.NotNil(t, decisions[0].Confidence)
	assert.InDelta(t, 0.8, *decisions[0].Confidence, 1e-9)
	assert.True(t, decisions[2].Escalated())

	tiers, err := store.TierDistribution(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 3)
	assert.Equal(t, 1, tiers[0].Tier)
	assert.Equal(t, int64(1), tiers[0].Count)

	costs, err := store.CostByProvider(ctx)
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.Equal(t, "cloud_a", costs[0].Provider)
	assert.InDelta(t, 0.12, costs[0].CostUSD, 1e-9)
}

func TestClaimsAndCitationResolution(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertDocument(ctx, model.Document{
		ID: "d1", ScopeType: "cert", ScopeID: "az-104", Title: "Exam guide", CreatedAt: now,
	}))
	require.NoError(t, store.InsertSegment(ctx, model.Segment{
		ID: "s1", DocID: "d1", Ordinal: 0, Content: "some text", CreatedAt: now,
	}))

	claim := model.Claim{
		ID:        "c1",
		ScopeType: "cert",
		ScopeID:   "az-104",
		Statement: "The exam has 40-60 questions",
		ClaimType: "fact",
		Citations: []model.Citation{{DocID: "d1", SegmentID: "s1"}},
		Status:    model.ClaimActive,
		CreatedAt: now,
	}
	require.NoError(t, store.InsertClaim(ctx, claim))

	claims, err := store.ListClaims(ctx, "cert", "az-104", model.ClaimActive)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Len(t, claims[0].Citations, 1)

	// Citation provenance: every citation resolves to an existing segment.
	ok, err := store.CitationResolves(ctx, claims[0].Citations[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CitationResolves(ctx, model.Citation{DocID: "d1", SegmentID: "ghost"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SupersedeClaim(ctx, "c1"))
	claims, err = store.ListClaims(ctx, "cert", "az-104", model.ClaimActive)
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestSnapshotsAndDeltas(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := model.Snapshot{
		ID: "snap-1", ScopeType: "topic", ScopeID: "quantum",
		ClaimIDs: []string{"c1", "c2"}, MetricIDs: []string{"m1"},
		Hash: "abc", CreatedAt: now,
	}
	second := model.Snapshot{
		ID: "snap-2", ScopeType: "topic", ScopeID: "quantum",
		ClaimIDs: []string{"c2", "c3"}, MetricIDs: []string{"m1"},
		Hash: "def", CreatedAt: now.Add(time.Second),
	}
	require.NoError(t, store.InsertSnapshot(ctx, first))
	require.NoError(t, store.InsertSnapshot(ctx, second))

	latest, err := store.GetLatestSnapshot(ctx, "topic", "quantum")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "snap-2", latest.ID)
	assert.Equal(t, []string{"c2", "c3"}, latest.ClaimIDs)

	none, err := store.GetLatestSnapshot(ctx, "topic", "unknown")
	require.NoError(t, err)
	assert.Nil(t, none)

	from := "snap-1"
	delta := model.Delta{
		ID: "delta-1", ScopeType: "topic", ScopeID: "quantum",
		FromSnapshotID: &from, ToSnapshotID: "snap-2",
		Change:    model.Change{Added: []string{"c3"}, Removed: []string{"c1"}},
		CreatedAt: now.Add(2 * time.Second),
	}
	require.NoError(t, store.InsertDelta(ctx, delta))

	got, err := store.GetDelta(ctx, "delta-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, got.Change.Added)
	require.NotNil(t, got.FromSnapshotID)
	assert.Equal(t, "snap-1", *got.FromSnapshotID)
}

func TestRelationships(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertRelationship(ctx, storage.Relationship{
		ScopeType: "cert", ScopeID: "az-104",
		FromEntity: "e1", ToEntity: "e2", Kind: "requires",
		ClaimID: "c1", CreatedAt: time.Now().UTC(),
	}))

	rels, err := store.ListRelationships(ctx, "cert", "az-104")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "requires", rels[0].Kind)
	assert.NotEmpty(t, rels[0].ID, "missing IDs are generated")
}

func TestMetricsSnapshotSink(t *testing.T) {
	store := testutil.NewTestStore(t)
	require.NoError(t, store.WriteMetricsSnapshot(context.Background(), map[string]any{
		"run_count": 3,
	}))
}
