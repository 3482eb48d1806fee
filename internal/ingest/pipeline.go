package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"club-segment-sync/internal/database"
	"club-segment-sync/internal/metrics"
	"club-segment-sync/internal/strava"
	"club-segment-sync/internal/token"
)

// Event is a normalized upstream push notification
type Event struct {
	ObjectType string
	AspectType string
	ActivityID int64
	AthleteID  int64
}

// Result statuses for event processing
const (
	StatusOK      = "ok"
	StatusIgnored = "ignored"
	StatusError   = "error"
)

// Result describes what happened to an event. Ignored is a terminal
// success: the event was valid but outside this system's scope.
type Result struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Pipeline is the single ingestion path. Webhook events, segment polls,
// and athlete backfills all converge on the same normalize-and-upsert
// routine, so replayed or overlapping deliveries are harmless.
type Pipeline struct {
	db           *database.DB
	client       *strava.Client
	tokens       *token.Manager
	pollPageSize int
	logger       *slog.Logger
}

// NewPipeline creates the ingestion pipeline
func NewPipeline(db *database.DB, client *strava.Client, tokens *token.Manager, pollPageSize int) *Pipeline {
	return &Pipeline{
		db:           db,
		client:       client,
		tokens:       tokens,
		pollPageSize: pollPageSize,
		logger:       slog.Default(),
	}
}

// ProcessEvent handles one webhook event end to end: filter to activity
// creations by registered athletes, fetch the activity, and upsert every
// effort on a segment the athlete is registered for. Failures on one
// effort never block the rest of the activity.
func (p *Pipeline) ProcessEvent(ctx context.Context, event *Event) *Result {
	if event.ObjectType != "activity" || event.AspectType != "create" {
		p.logger.Debug("Ignoring event", "object_type", event.ObjectType, "aspect_type", event.AspectType)
		return &Result{Status: StatusIgnored, Detail: "not an activity creation"}
	}

	segmentIDs, err := p.db.SegmentsForAthlete(event.AthleteID)
	if err != nil {
		return &Result{Status: StatusError, Detail: fmt.Sprintf("registration lookup failed: %v", err)}
	}
	if len(segmentIDs) == 0 {
		p.logger.Debug("Ignoring event from unregistered athlete", "athlete_id", event.AthleteID)
		return &Result{Status: StatusIgnored, Detail: "athlete not registered for any segment"}
	}

	registered := make(map[int64]bool, len(segmentIDs))
	for _, id := range segmentIDs {
		registered[id] = true
	}

	cred, err := p.tokens.GetValidCredential(ctx, event.AthleteID)
	if err != nil {
		if errors.Is(err, token.ErrNotBound) {
			return &Result{Status: StatusIgnored, Detail: "athlete registered but not connected"}
		}
		return &Result{Status: StatusError, Detail: fmt.Sprintf("credential unavailable: %v", err)}
	}

	activity, err := p.client.GetActivity(ctx, cred.AccessToken, event.ActivityID)
	if err != nil {
		if strava.IsNotFound(err) {
			return &Result{Status: StatusIgnored, Detail: "activity not found upstream"}
		}
		return &Result{Status: StatusError, Detail: fmt.Sprintf("activity fetch failed: %v", err)}
	}

	upserted := 0
	failed := 0
	for i := range activity.SegmentEfforts {
		rec := &activity.SegmentEfforts[i]
		if rec.SegmentID != nil && !registered[*rec.SegmentID] {
			continue
		}
		if p.ingestRecord(rec, "", metrics.SourceWebhook) {
			upserted++
		} else {
			failed++
		}
	}

	p.logger.Info("Processed activity event",
		"activity_id", event.ActivityID, "athlete_id", event.AthleteID,
		"upserted", upserted, "failed", failed)

	if failed > 0 && upserted == 0 {
		return &Result{Status: StatusError, Detail: fmt.Sprintf("all %d matching efforts failed", failed)}
	}
	return &Result{Status: StatusOK, Detail: fmt.Sprintf("upserted %d efforts", upserted)}
}

// PollSegment sweeps a segment's upstream leaderboard and ingests every
// entry belonging to a registered athlete. One athlete's revoked
// credential never blocks the sweep: any registered athlete's valid
// token can read the leaderboard.
func (p *Pipeline) PollSegment(ctx context.Context, segmentID int64) error {
	registrations, err := p.db.AthletesForSegment(segmentID)
	if err != nil {
		return fmt.Errorf("registration lookup failed: %w", err)
	}
	if len(registrations) == 0 {
		p.logger.Info("Skipping poll of segment with no registrations", "segment_id", segmentID)
		metrics.PollRunsTotal.WithLabelValues(database.JobTypePollSegment, "empty").Inc()
		return nil
	}

	names := make(map[int64]string, len(registrations))
	for _, r := range registrations {
		names[r.AthleteID] = r.DisplayName
	}

	cred := p.anyValidCredential(ctx, registrations)
	if cred == nil {
		metrics.PollRunsTotal.WithLabelValues(database.JobTypePollSegment, "no_credential").Inc()
		return fmt.Errorf("no registered athlete on segment %d has a usable credential", segmentID)
	}

	entries, err := p.client.GetSegmentLeaderboard(ctx, cred.AccessToken, segmentID, p.pollPageSize)
	if err != nil {
		metrics.PollRunsTotal.WithLabelValues(database.JobTypePollSegment, "upstream_error").Inc()
		return fmt.Errorf("leaderboard fetch failed: %w", err)
	}

	upserted := 0
	skipped := 0
	for i := range entries {
		rec := &entries[i]
		if rec.AthleteID == nil {
			metrics.EffortsSkippedTotal.WithLabelValues(metrics.SourcePoll, skipMissingField).Inc()
			skipped++
			continue
		}
		name, isRegistered := names[*rec.AthleteID]
		if !isRegistered {
			metrics.EffortsSkippedTotal.WithLabelValues(metrics.SourcePoll, skipUnregistered).Inc()
			skipped++
			continue
		}
		if p.ingestRecord(rec, name, metrics.SourcePoll) {
			upserted++
		}
	}

	p.logger.Info("Polled segment leaderboard",
		"segment_id", segmentID, "entries", len(entries),
		"upserted", upserted, "skipped", skipped)
	metrics.PollRunsTotal.WithLabelValues(database.JobTypePollSegment, "success").Inc()

	return nil
}

// PollAthleteSegment backfills one athlete's full effort history on one
// segment using their own token. This covers efforts a leaderboard sweep
// cannot see: the standalone efforts endpoint is not truncated to the
// top of the board.
func (p *Pipeline) PollAthleteSegment(ctx context.Context, segmentID, athleteID int64) error {
	segmentIDs, err := p.db.SegmentsForAthlete(athleteID)
	if err != nil {
		return fmt.Errorf("registration lookup failed: %w", err)
	}
	found := false
	for _, id := range segmentIDs {
		if id == segmentID {
			found = true
			break
		}
	}
	if !found {
		p.logger.Info("Skipping backfill for unregistered pair", "segment_id", segmentID, "athlete_id", athleteID)
		metrics.PollRunsTotal.WithLabelValues(database.JobTypeBackfillAthlete, "empty").Inc()
		return nil
	}

	cred, err := p.tokens.GetValidCredential(ctx, athleteID)
	if err != nil {
		metrics.PollRunsTotal.WithLabelValues(database.JobTypeBackfillAthlete, "no_credential").Inc()
		return fmt.Errorf("credential unavailable for athlete %d: %w", athleteID, err)
	}

	records, err := p.client.GetSegmentEfforts(ctx, cred.AccessToken, segmentID, athleteID)
	if err != nil {
		metrics.PollRunsTotal.WithLabelValues(database.JobTypeBackfillAthlete, "upstream_error").Inc()
		return fmt.Errorf("effort fetch failed: %w", err)
	}

	upserted := 0
	for i := range records {
		if p.ingestRecord(&records[i], "", metrics.SourceBackfill) {
			upserted++
		}
	}

	p.logger.Info("Backfilled athlete efforts",
		"segment_id", segmentID, "athlete_id", athleteID,
		"records", len(records), "upserted", upserted)
	metrics.PollRunsTotal.WithLabelValues(database.JobTypeBackfillAthlete, "success").Inc()

	return nil
}

// anyValidCredential returns the first registered athlete's credential
// that validates, logging and moving past athletes whose connection is
// missing or revoked.
func (p *Pipeline) anyValidCredential(ctx context.Context, registrations []*database.Registration) *database.Credential {
	for _, r := range registrations {
		cred, err := p.tokens.GetValidCredential(ctx, r.AthleteID)
		if err != nil {
			if errors.Is(err, token.ErrNotBound) || errors.Is(err, token.ErrCredentialRevoked) {
				p.logger.Warn("Athlete credential unusable, trying next", "athlete_id", r.AthleteID, "error", err)
				continue
			}
			p.logger.Warn("Credential check failed, trying next", "athlete_id", r.AthleteID, "error", err)
			continue
		}
		return cred
	}
	return nil
}

// ingestRecord normalizes and stores one effort, recording the advisory
// checkpoint for its (segment, athlete) pair. Returns false when the
// record was rejected or the write failed; the caller carries on.
func (p *Pipeline) ingestRecord(rec *strava.EffortRecord, fallbackName, source string) bool {
	effort, reason := normalize(rec, fallbackName)
	if effort == nil {
		p.logger.Warn("Skipping malformed effort record", "source", source, "reason", reason)
		metrics.EffortsSkippedTotal.WithLabelValues(source, reason).Inc()
		return false
	}

	if err := p.db.UpsertEffort(effort); err != nil {
		p.logger.Error("Failed to upsert effort",
			"effort_id", effort.EffortID, "segment_id", effort.SegmentID,
			"athlete_id", effort.AthleteID, "source", source, "error", err)
		return false
	}
	metrics.EffortsUpsertedTotal.WithLabelValues(source).Inc()

	checkpoint := &database.SyncCheckpoint{
		SegmentID:    effort.SegmentID,
		AthleteID:    effort.AthleteID,
		LastSyncedAt: time.Now().Unix(),
		LastEffortID: effort.EffortID,
	}
	if err := p.db.UpsertCheckpoint(checkpoint); err != nil {
		// Advisory only; the effort itself is already durable
		p.logger.Warn("Failed to record checkpoint",
			"segment_id", effort.SegmentID, "athlete_id", effort.AthleteID, "error", err)
	}

	return true
}
