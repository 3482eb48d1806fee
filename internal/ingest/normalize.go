package ingest

import (
	"time"

	"club-segment-sync/internal/database"
	"club-segment-sync/internal/strava"
)

// Skip reasons for efforts rejected during normalization
const (
	skipMissingField = "missing_field"
	skipBadDate      = "bad_date"
	skipUnregistered = "unregistered"
)

// startDateFormats covers the wall-clock shapes the upstream emits for
// start_date_local. The trailing Z on the first form is a quirk of the
// upstream: the value is local time despite the zone marker.
var startDateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

func parseStartDate(s string) (int64, bool) {
	for _, layout := range startDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// normalize converts an upstream effort record into a storable effort,
// failing closed: any record missing a required field is rejected with a
// reason rather than stored with nulls. fallbackName fills athlete_name
// when the upstream shape omits it.
func normalize(rec *strava.EffortRecord, fallbackName string) (*database.Effort, string) {
	if rec.EffortID == nil || rec.SegmentID == nil || rec.AthleteID == nil || rec.ElapsedSeconds == nil {
		return nil, skipMissingField
	}

	startDate, ok := parseStartDate(rec.StartDateLocal)
	if !ok {
		return nil, skipBadDate
	}

	name := rec.AthleteName
	if name == "" {
		name = fallbackName
	}

	return &database.Effort{
		EffortID:         *rec.EffortID,
		SegmentID:        *rec.SegmentID,
		AthleteID:        *rec.AthleteID,
		AthleteName:      name,
		ElapsedSeconds:   *rec.ElapsedSeconds,
		MovingSeconds:    rec.MovingSeconds,
		StartDate:        startDate,
		AverageWatts:     rec.AverageWatts,
		DeviceWatts:      rec.DeviceWatts,
		AverageHeartrate: rec.AverageHeartrate,
		MaxHeartrate:     rec.MaxHeartrate,
	}, ""
}
