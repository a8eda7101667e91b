package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashita-ai/kumo/internal/state"
)

// checkpoint saves state after a successful node. Checkpoint write failures
// are logged and swallowed — a run never fails on checkpointing.
func (o *Orchestrator) checkpoint(runID, nodeName string, st state.State) {
	path := filepath.Join(o.checkpointDir, runID, nodeName+".json")
	if err := st.Save(path); err != nil {
		o.logger.Warn("checkpoint write failed", "run_id", runID, "node", nodeName, "error", err.Error())
	}
}

// loadCheckpoint returns the name of the last completed node and its saved
// state, using file modification time to find the newest checkpoint.
func (o *Orchestrator) loadCheckpoint(runID string) (string, state.State, error) {
	dir := filepath.Join(o.checkpointDir, runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, fmt.Errorf("orchestrator: no checkpoints for run %s: %w", runID, err)
	}

	var newestName string
	var newestMod int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newestName == "" || mod > newestMod {
			newestName = e.Name()
			newestMod = mod
		}
	}
	if newestName == "" {
		return "", nil, fmt.Errorf("orchestrator: no checkpoints for run %s", runID)
	}

	st, err := state.Load(filepath.Join(dir, newestName))
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSuffix(newestName, ".json"), st, nil
}
