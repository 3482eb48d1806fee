package leaderboard

import (
	"fmt"

	"club-segment-sync/internal/database"
)

// RankedEffort is one row of a computed leaderboard: an athlete's best
// qualifying effort with its dense rank.
type RankedEffort struct {
	Rank           int      `json:"rank"`
	AthleteID      int64    `json:"athlete_id"`
	AthleteName    string   `json:"athlete_display_name"`
	ElapsedSeconds int64    `json:"elapsed_seconds"`
	FormattedTime  string   `json:"formatted_time"`
	AverageWatts   *float64 `json:"average_power,omitempty"`
	DeviceWatts    bool     `json:"device_watts"`
	StartDate      int64    `json:"date"`
	EffortID       int64    `json:"effort_id"`
}

// Projector computes leaderboards from stored efforts. It holds no state
// of its own; every read reflects whatever the ingestion pipeline has
// stored so far.
type Projector struct {
	db *database.DB
}

// NewProjector creates a leaderboard projector over the effort store
func NewProjector(db *database.DB) *Projector {
	return &Projector{db: db}
}

// GetLeaderboard ranks each registered athlete's single best effort on a
// segment. A nil window falls back to the segment's configured challenge
// window; a segment with no window configured ranks all stored efforts.
// Ties on elapsed time rank the earlier performance first.
func (p *Projector) GetLeaderboard(segmentID int64, window *database.EffortWindow) ([]*RankedEffort, error) {
	if window == nil {
		segment, err := p.db.GetSegment(segmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load segment: %w", err)
		}
		if segment != nil && segment.StartDate != nil && segment.EndDate != nil {
			window = &database.EffortWindow{Start: *segment.StartDate, End: *segment.EndDate}
		}
	}

	efforts, err := p.db.QueryEfforts(segmentID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to query efforts: %w", err)
	}

	// Efforts arrive sorted best-first, so the first row per athlete is
	// their best qualifying effort.
	seen := make(map[int64]bool)
	ranked := make([]*RankedEffort, 0, len(efforts))
	for _, e := range efforts {
		if seen[e.AthleteID] {
			continue
		}
		seen[e.AthleteID] = true
		ranked = append(ranked, &RankedEffort{
			Rank:           len(ranked) + 1,
			AthleteID:      e.AthleteID,
			AthleteName:    e.AthleteName,
			ElapsedSeconds: e.ElapsedSeconds,
			FormattedTime:  FormatElapsed(e.ElapsedSeconds),
			AverageWatts:   e.AverageWatts,
			DeviceWatts:    e.DeviceWatts,
			StartDate:      e.StartDate,
			EffortID:       e.EffortID,
		})
	}

	return ranked, nil
}

// FormatElapsed renders elapsed seconds as m:ss for display
func FormatElapsed(seconds int64) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
