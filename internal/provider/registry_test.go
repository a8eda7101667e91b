package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kumo/internal/adapter"
	"github.com/ashita-ai/kumo/internal/testutil"
)

func newTestRegistry(aggregateCap int) *Registry {
	r := NewRegistry(aggregateCap, testutil.DiscardLogger())
	r.Register(Entry{
		Name:         "dgx",
		Adapter:      adapter.NewStub("dgx"),
		CostPer1KIn:  0,
		CostPer1KOut: 0,
		Quality:      0.85,
		MaxContext:   32768,
		Tags:         []string{"dgx", "local"},
	})
	r.Register(Entry{
		Name:         "cloud_a",
		Adapter:      adapter.NewStub("cloud_a"),
		CostPer1KIn:  0.003,
		CostPer1KOut: 0.015,
		Quality:      0.95,
		MaxContext:   200000,
		Tags:         []string{"cloud", "frontier"},
		DailyCap:     2,
	})
	r.Register(Entry{
		Name:         "cloud_b",
		Adapter:      adapter.NewStub("cloud_b"),
		CostPer1KIn:  0.00015,
		CostPer1KOut: 0.0006,
		Quality:      0.88,
		MaxContext:   128000,
		Tags:         []string{"cloud", "frontier"},
	})
	return r
}

func TestPreferLocalFallbackSequence(t *testing.T) {
	r := newTestRegistry(0)
	r.MarkUnavailable("dgx")

	// dgx down: the best remaining under prefer_local is the highest
	// quality cloud provider.
	first := r.Select(Requirements{}, StrategyPreferLocal)
	require.NotNil(t, first)
	assert.Equal(t, "cloud_a", first.Name)

	r.MarkUnavailable("cloud_a")
	second := r.Select(Requirements{}, StrategyPreferLocal)
	require.NotNil(t, second)
	assert.Equal(t, "cloud_b", second.Name)

	r.RecordCall(first.Name)
	r.RecordCall(second.Name)
	assert.Equal(t, 2, r.CallsToday())
}

func TestPreferLocalPicksLocalFirst(t *testing.T) {
	r := newTestRegistry(0)
	e := r.Select(Requirements{}, StrategyPreferLocal)
	require.NotNil(t, e)
	assert.Equal(t, "dgx", e.Name, "local/dgx tags come first despite lower quality")
}

func TestCheapestQualified(t *testing.T) {
	r := newTestRegistry(0)
	e := r.Select(Requirements{MinQuality: 0.86}, StrategyCheapestQualified)
	require.NotNil(t, e)
	assert.Equal(t, "cloud_b", e.Name, "dgx filtered by quality; cloud_b is cheapest")
}

func TestHighestQuality(t *testing.T) {
	r := newTestRegistry(0)
	e := r.Select(Requirements{}, StrategyHighestQuality)
	require.NotNil(t, e)
	assert.Equal(t, "cloud_a", e.Name)
}

func TestRequirementFilters(t *testing.T) {
	r := newTestRegistry(0)

	assert.Nil(t, r.Select(Requirements{MinQuality: 0.99}, StrategyHighestQuality))
	assert.Nil(t, r.Select(Requirements{MinContext: 500000}, StrategyHighestQuality))

	e := r.Select(Requirements{RequiredTags: []string{"frontier"}, MaxCostPer1K: 0.001}, StrategyCheapestQualified)
	require.NotNil(t, e)
	assert.Equal(t, "cloud_b", e.Name)
}

func TestSelectWithFallbackExcludes(t *testing.T) {
	r := newTestRegistry(0)
	e := r.SelectWithFallback(Requirements{}, StrategyHighestQuality, map[string]bool{"cloud_a": true})
	require.NotNil(t, e)
	assert.Equal(t, "cloud_b", e.Name)

	e = r.SelectWithFallback(Requirements{}, StrategyHighestQuality,
		map[string]bool{"cloud_a": true, "cloud_b": true, "dgx": true})
	assert.Nil(t, e)
}

func TestDeterministicTieBreakByName(t *testing.T) {
	r := NewRegistry(0, testutil.DiscardLogger())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(Entry{Name: name, Quality: 0.9, MaxContext: 1000})
	}
	e := r.Select(Requirements{}, StrategyHighestQuality)
	require.NotNil(t, e)
	assert.Equal(t, "alpha", e.Name)
}

func TestPerProviderDailyCap(t *testing.T) {
	r := newTestRegistry(0)

	assert.False(t, r.CapExceeded("cloud_a"))
	r.RecordCall("cloud_a")
	assert.False(t, r.CapExceeded("cloud_a"))
	r.RecordCall("cloud_a")
	assert.True(t, r.CapExceeded("cloud_a"), "cloud_a cap is 2")
	assert.False(t, r.CapExceeded("cloud_b"), "uncapped provider stays open")
}

func TestAggregateDailyCap(t *testing.T) {
	r := newTestRegistry(3)
	r.RecordCall("cloud_b")
	r.RecordCall("cloud_b")
	assert.False(t, r.CapExceeded("cloud_b"))
	r.RecordCall("dgx")
	assert.True(t, r.CapExceeded("cloud_b"), "aggregate cap closes every provider")
	assert.True(t, r.CapExceeded("dgx"))
}

func TestMarkAvailableRestores(t *testing.T) {
	r := newTestRegistry(0)
	r.MarkUnavailable("dgx")
	assert.Len(t, r.ListAvailable(), 2)
	r.MarkAvailable("dgx")
	assert.Len(t, r.ListAvailable(), 3)

	got := r.Get("dgx")
	require.NotNil(t, got)
	assert.False(t, got.LastFailure.IsZero(), "failure timestamp survives recovery")
}

func TestEstimateCost(t *testing.T) {
	e := &Entry{CostPer1KIn: 0.003, CostPer1KOut: 0.015}
	assert.InDelta(t, 0.003+0.015, e.EstimateCost(1000, 1000), 1e-9)
}
