package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ashita-ai/kumo/internal/metrics"
	"github.com/ashita-ai/kumo/internal/storage"
)

type handlers struct {
	store     *storage.Store
	collector *metrics.Collector
	logger    *slog.Logger
	version   string
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
	})
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, h.collector.Snapshot())
}

func (h *handlers) handleRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *handlers) handleRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	events, err := h.store.ListRunEvents(r.Context(), runID)
	if err != nil {
		h.logger.Error("list run events failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to list run events")
		return
	}
	decisions, err := h.store.ListDecisionsForRun(r.Context(), runID)
	if err != nil {
		h.logger.Error("list run decisions failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to list run decisions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":       run,
		"events":    events,
		"decisions": decisions,
	})
}

func (h *handlers) handleRouting(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	tiers, err := h.store.TierDistribution(r.Context())
	if err != nil {
		h.logger.Error("tier distribution failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to aggregate routing decisions")
		return
	}
	costs, err := h.store.CostByProvider(r.Context())
	if err != nil {
		h.logger.Error("cost by provider failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to aggregate provider costs")
		return
	}
	recent, err := h.store.ListDecisions(r.Context(), 100)
	if err != nil {
		h.logger.Error("list decisions failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to list routing decisions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tier_distribution": tiers,
		"cost_by_provider":  costs,
		"recent_decisions":  recent,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
