package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesRequiredKeys(t *testing.T) {
	s := New("cert", "az-104", "run-1", "certification", map[string]any{"seed": "x"})
	assert.Empty(t, s.Validate())
	assert.Equal(t, "cert", s["scope_type"])
	assert.Equal(t, "x", s["seed"])
}

func TestValidateReportsMissing(t *testing.T) {
	s := State{"scope_type": "cert", "run_id": "r"}
	missing := s.Validate()
	assert.ElementsMatch(t, []string{"scope_id", "graph_id"}, missing)
}

func TestMergeOverwritesAndAdds(t *testing.T) {
	s := State{"a": 1, "b": "old"}
	s.Merge(Delta{"b": "new", "c": true})
	assert.Equal(t, 1, s["a"])
	assert.Equal(t, "new", s["b"])
	assert.Equal(t, true, s["c"])
}

func TestTypedAccessors(t *testing.T) {
	s := State{
		"f64":  0.5,
		"int":  7,
		"str":  "hello",
		"flag": true,
		"list": []any{"a", "b"},
	}
	assert.InDelta(t, 0.5, s.Float("f64", 0), 1e-9)
	assert.InDelta(t, 7.0, s.Float("int", 0), 1e-9)
	assert.Equal(t, 7, s.Int("int", 0))
	assert.Equal(t, "hello", s.String("str", ""))
	assert.True(t, s.Bool("flag"))
	assert.Equal(t, []string{"a", "b"}, s.StringSlice("list"))

	assert.InDelta(t, 0.9, s.Float("absent", 0.9), 1e-9)
	assert.Equal(t, 3, s.Int("absent", 3))
	assert.Equal(t, "dflt", s.String("absent", "dflt"))
	assert.False(t, s.Bool("absent"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New("lab", "suite-1", "run-2", "lab", map[string]any{
		"claims": []any{map[string]any{"claim_id": "c1"}},
		"count":  3,
	})
	path := filepath.Join(t.TempDir(), "checkpoints", "run-2", "node.json")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lab", loaded["scope_type"])
	assert.Equal(t, 3, loaded.Int("count", 0), "numbers survive the JSON round trip")
	claims, ok := loaded["claims"].([]any)
	require.True(t, ok)
	assert.Len(t, claims, 1)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
