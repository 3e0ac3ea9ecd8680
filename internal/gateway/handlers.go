package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// HealthSnapshot is the aggregated health view served at /health.
type HealthSnapshot struct {
	Gateway    string          `json:"gateway"`
	Services   map[string]bool `json:"services"`
	AllHealthy bool            `json:"allHealthy"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Snapshot builds the aggregated health view from the registry.
func (g *Gateway) Snapshot() HealthSnapshot {
	snap := HealthSnapshot{
		Gateway:    "ok",
		Services:   make(map[string]bool),
		AllHealthy: true,
		Timestamp:  time.Now(),
	}

	for _, h := range g.registry.AllHealth() {
		snap.Services[h.Name] = h.Healthy
		if !h.Healthy {
			snap.AllHealthy = false
		}
	}

	return snap
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.Snapshot())
}

type breakerStats struct {
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	TotalInWindow        int       `json:"total_in_window"`
	FailuresInWindow     int       `json:"failures_in_window"`
	OpenedAt             time.Time `json:"opened_at,omitzero"`
}

func (g *Gateway) breakerStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]breakerStats)
	for service, s := range g.breakers.Stats() {
		stats[service] = breakerStats{
			State:                s.State.String(),
			ConsecutiveFailures:  s.ConsecutiveFailures,
			ConsecutiveSuccesses: s.ConsecutiveSuccesses,
			TotalInWindow:        s.TotalInWindow,
			FailuresInWindow:     s.FailuresInWindow,
			OpenedAt:             s.OpenedAt,
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

func (g *Gateway) breakerResetHandler(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["service"]

	if !g.breakers.Reset(service) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "no circuit breaker for service " + service,
		})
		return
	}

	g.logger.Info("Circuit breaker reset by operator", slog.String("service", service))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"service": service,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
