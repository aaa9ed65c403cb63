package status

import (
	"context"
	"encoding/json"
	"net/http"

	"watchtower/internal/services/monitor"
	"watchtower/pkg/errors"
	"watchtower/pkg/logger"
)

// Monitor is the read side of the liquidation engine
type Monitor interface {
	GetStatus(ctx context.Context) monitor.Status
	GetBorrowerDetail(ctx context.Context, address string) (monitor.BorrowerDetail, error)
}

// Handler serves the dashboard status API
type Handler struct {
	monitor Monitor
	log     *logger.Logger
}

// NewHandler creates a status handler
func NewHandler(m Monitor, log *logger.Logger) *Handler {
	return &Handler{
		monitor: m,
		log:     log.With("component", "status_api"),
	}
}

// Register mounts the status endpoints on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", h.GetStatus)
	mux.HandleFunc("GET /api/v1/borrowers/{address}", h.GetBorrower)
}

// GetStatus returns the engine snapshot
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.GetStatus(r.Context()))
}

// GetBorrower returns the drill-down view for one borrower
func (h *Handler) GetBorrower(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	detail, err := h.monitor.GetBorrowerDetail(r.Context(), address)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			writeError(w, http.StatusNotFound, "borrower not tracked")
			return
		}
		h.log.Errorw("Borrower detail failed", "borrower", address, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
