package handlers

import (
	"log/slog"
	"net/http"

	"club-segment-sync/internal/database"
)

// HealthHandler reports service liveness
type HealthHandler struct {
	db     *database.DB
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.DB) *HealthHandler {
	return &HealthHandler{
		db:     db,
		logger: slog.Default(),
	}
}

// HandleHealth reports whether the service and its database are up
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Health(); err != nil {
		h.logger.Error("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
