package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"watchtower/pkg/logger"
)

const checkTimeout = 3 * time.Second

// Checker is one dependency probed by the readiness endpoint
type Checker interface {
	Health(ctx context.Context) error
}

// Handler serves liveness and readiness probes
type Handler struct {
	checks map[string]Checker
	log    *logger.Logger
}

// NewHandler creates a health handler over named dependency checks
func NewHandler(checks map[string]Checker, log *logger.Logger) *Handler {
	return &Handler{
		checks: checks,
		log:    log.With("component", "health"),
	}
}

// Register mounts the probe endpoints on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Liveness)
	mux.HandleFunc("GET /readyz", h.Readiness)
}

// Liveness reports that the process is up
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness probes every dependency and fails if any is down
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		if err := check.Health(ctx); err != nil {
			h.log.Warnw("Readiness check failed", "dependency", name, "error", err)
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, results)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
