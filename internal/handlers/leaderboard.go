package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"club-segment-sync/internal/database"
	"club-segment-sync/internal/leaderboard"
)

// LeaderboardHandler serves computed leaderboards
type LeaderboardHandler struct {
	db        *database.DB
	projector *leaderboard.Projector
	logger    *slog.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(db *database.DB, projector *leaderboard.Projector) *LeaderboardHandler {
	return &LeaderboardHandler{
		db:        db,
		projector: projector,
		logger:    slog.Default(),
	}
}

type leaderboardResponse struct {
	SegmentID   int64                       `json:"segment_id"`
	SegmentName string                      `json:"segment_name,omitempty"`
	Entries     []*leaderboard.RankedEffort `json:"entries"`
}

// HandleGet serves the leaderboard for one segment. An explicit window
// comes from start and end query parameters (RFC 3339, both inclusive,
// both or neither); otherwise the segment's configured window applies.
func (h *LeaderboardHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	segmentID, err := strconv.ParseInt(chi.URLParam(r, "segmentID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid segment ID", http.StatusBadRequest)
		return
	}

	segment, err := h.db.GetSegment(segmentID)
	if err != nil {
		h.logger.Error("Failed to load segment", "segment_id", segmentID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if segment == nil {
		http.Error(w, "Unknown segment", http.StatusNotFound)
		return
	}

	window, err := parseWindow(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := h.projector.GetLeaderboard(segmentID, window)
	if err != nil {
		h.logger.Error("Failed to compute leaderboard", "segment_id", segmentID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*leaderboard.RankedEffort{}
	}

	writeJSON(w, http.StatusOK, &leaderboardResponse{
		SegmentID:   segmentID,
		SegmentName: segment.Name,
		Entries:     entries,
	})
}

func parseWindow(startParam, endParam string) (*database.EffortWindow, error) {
	if startParam == "" && endParam == "" {
		return nil, nil
	}
	if startParam == "" || endParam == "" {
		return nil, errInvalidWindow("start and end must be given together")
	}

	start, err := time.Parse(time.RFC3339, startParam)
	if err != nil {
		return nil, errInvalidWindow("start must be RFC 3339")
	}
	end, err := time.Parse(time.RFC3339, endParam)
	if err != nil {
		return nil, errInvalidWindow("end must be RFC 3339")
	}
	if end.Before(start) {
		return nil, errInvalidWindow("end must not be before start")
	}

	return &database.EffortWindow{Start: start.Unix(), End: end.Unix()}, nil
}

type errInvalidWindow string

func (e errInvalidWindow) Error() string { return string(e) }
