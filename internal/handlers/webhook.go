package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"club-segment-sync/internal/config"
	"club-segment-sync/internal/ingest"
	"club-segment-sync/internal/metrics"
)

// WebhookHandler handles Strava webhook verification and event delivery
type WebhookHandler struct {
	pipeline *ingest.Pipeline
	config   *config.Config
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(pipeline *ingest.Pipeline, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{
		pipeline: pipeline,
		config:   cfg,
		logger:   slog.Default(),
	}
}

// webhookEvent matches Strava's push notification body
type webhookEvent struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	AspectType string `json:"aspect_type"`
	OwnerID    int64  `json:"owner_id"`
}

// HandleVerification answers the subscription handshake: echo the
// challenge only when the mode and verify token both match.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	hubMode := r.URL.Query().Get("hub.mode")
	hubChallenge := r.URL.Query().Get("hub.challenge")
	hubVerifyToken := r.URL.Query().Get("hub.verify_token")

	h.logger.Info("Webhook verification request",
		"hub.mode", hubMode,
		"hub.challenge", hubChallenge[:min(20, len(hubChallenge))],
	)

	if hubMode != "subscribe" || hubVerifyToken != h.config.StravaVerifyToken {
		h.logger.Warn("Webhook verification rejected", "hub.mode", hubMode)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(map[string]string{"hub.challenge": hubChallenge}); err != nil {
		h.logger.Error("Failed to encode challenge response", "error", err)
	}

	h.logger.Info("Webhook verification successful")
}

// HandleEvent processes one webhook event. The response is always 200:
// Strava disables subscriptions that fail deliveries, so processing
// outcomes are reported in the body and surfaced through logs and
// metrics instead of status codes.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var event webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.logger.Warn("Invalid JSON in webhook body", "error", err)
		metrics.WebhookEventsTotal.WithLabelValues(metrics.EventOutcomeError).Inc()
		writeJSON(w, http.StatusOK, &ingest.Result{Status: ingest.StatusError, Detail: "invalid payload"})
		return
	}

	h.logger.Info("Received webhook event",
		"object_type", event.ObjectType,
		"object_id", event.ObjectID,
		"aspect_type", event.AspectType,
		"owner_id", event.OwnerID,
	)

	result := h.pipeline.ProcessEvent(r.Context(), &ingest.Event{
		ObjectType: event.ObjectType,
		AspectType: event.AspectType,
		ActivityID: event.ObjectID,
		AthleteID:  event.OwnerID,
	})

	switch result.Status {
	case ingest.StatusOK:
		metrics.WebhookEventsTotal.WithLabelValues(metrics.EventOutcomeOK).Inc()
	case ingest.StatusIgnored:
		metrics.WebhookEventsTotal.WithLabelValues(metrics.EventOutcomeIgnored).Inc()
	default:
		metrics.WebhookEventsTotal.WithLabelValues(metrics.EventOutcomeError).Inc()
		h.logger.Error("Webhook event processing failed",
			"object_id", event.ObjectID, "owner_id", event.OwnerID, "detail", result.Detail)
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("Failed to encode JSON response", "error", err)
	}
}

// min returns the minimum of two integers
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
