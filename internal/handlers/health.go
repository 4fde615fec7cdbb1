package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"llmgate/internal/registry"
	"llmgate/internal/stream"
)

type HealthHandler struct {
	registry *registry.Registry
	sessions *stream.Store
	logger   *slog.Logger
}

func NewHealthHandler(reg *registry.Registry, sessions *stream.Store, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		registry: reg,
		sessions: sessions,
		logger:   logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":        "ok",
		"models":        h.registry.Models(),
		"live_sessions": h.sessions.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write health check response", "error", err)
	}
}
