package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"club-segment-sync/internal/database"
)

// PollHandler accepts authorized requests to enqueue batch polls. The
// request is acknowledged as soon as the job is durably queued; the
// worker runs it later and failures land in the dead-letter state.
type PollHandler struct {
	db        *database.DB
	adminKeys map[string]struct{}
	logger    *slog.Logger
}

// NewPollHandler creates a poll handler authorized by the given key set
func NewPollHandler(db *database.DB, adminKeys map[string]struct{}) *PollHandler {
	return &PollHandler{
		db:        db,
		adminKeys: adminKeys,
		logger:    slog.Default(),
	}
}

type pollRequest struct {
	SegmentID int64  `json:"segment_id"`
	AthleteID *int64 `json:"athlete_id,omitempty"`
}

// HandlePoll enqueues a poll job: a leaderboard sweep for the segment,
// or a single-athlete backfill when athlete_id is given.
func (h *PollHandler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Api-Key")
	if _, ok := h.adminKeys[key]; !ok {
		h.logger.Warn("Poll request with invalid API key")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.SegmentID == 0 {
		http.Error(w, "segment_id is required", http.StatusBadRequest)
		return
	}

	segment, err := h.db.GetSegment(req.SegmentID)
	if err != nil {
		h.logger.Error("Failed to load segment", "segment_id", req.SegmentID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if segment == nil {
		http.Error(w, "Unknown segment", http.StatusNotFound)
		return
	}

	jobType := database.JobTypePollSegment
	if req.AthleteID != nil {
		jobType = database.JobTypeBackfillAthlete
	}

	jobID, err := h.db.EnqueuePollJob(jobType, req.SegmentID, req.AthleteID)
	if err != nil {
		h.logger.Error("Failed to enqueue poll job", "segment_id", req.SegmentID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Enqueued poll job",
		"job_id", jobID, "job_type", jobType, "segment_id", req.SegmentID)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "accepted",
		"job_id": jobID,
	})
}
