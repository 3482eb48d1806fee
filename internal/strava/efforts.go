package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"club-segment-sync/internal/metrics"
)

// EffortRecord is the union of the effort-like shapes the upstream API
// returns. Fields the upstream may omit are pointers; the ingestion
// pipeline fails closed on records missing required fields instead of
// letting nulls reach the store.
type EffortRecord struct {
	EffortID         *int64
	SegmentID        *int64
	AthleteID        *int64
	AthleteName      string
	ElapsedSeconds   *int64
	MovingSeconds    int64
	StartDateLocal   string // Upstream local wall-clock, RFC3339-shaped
	AverageWatts     *float64
	DeviceWatts      bool
	AverageHeartrate *float64
	MaxHeartrate     *float64
}

// ActivityDetail is the subset of an activity the ingestion engine consumes
type ActivityDetail struct {
	ActivityID     int64
	AthleteID      int64
	SegmentEfforts []EffortRecord
}

// effortPayload matches the segment_efforts entries inside an activity
// detail response and the standalone segment_efforts list response.
type effortPayload struct {
	ID          *int64 `json:"id"`
	ElapsedTime *int64 `json:"elapsed_time"`
	MovingTime  int64  `json:"moving_time"`
	StartLocal  string `json:"start_date_local"`
	Segment     struct {
		ID *int64 `json:"id"`
	} `json:"segment"`
	Athlete struct {
		ID *int64 `json:"id"`
	} `json:"athlete"`
	AverageWatts     *float64 `json:"average_watts"`
	DeviceWatts      bool     `json:"device_watts"`
	AverageHeartrate *float64 `json:"average_heartrate"`
	MaxHeartrate     *float64 `json:"max_heartrate"`
}

func (p *effortPayload) toRecord() EffortRecord {
	return EffortRecord{
		EffortID:         p.ID,
		SegmentID:        p.Segment.ID,
		AthleteID:        p.Athlete.ID,
		ElapsedSeconds:   p.ElapsedTime,
		MovingSeconds:    p.MovingTime,
		StartDateLocal:   p.StartLocal,
		AverageWatts:     p.AverageWatts,
		DeviceWatts:      p.DeviceWatts,
		AverageHeartrate: p.AverageHeartrate,
		MaxHeartrate:     p.MaxHeartrate,
	}
}

// GetActivity fetches an activity's detail including its segment efforts
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (*ActivityDetail, error) {
	path := fmt.Sprintf("/activities/%d", activityID)

	body, err := c.do(ctx, metrics.OpGetActivity, path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %d: %w", activityID, err)
	}

	var payload struct {
		ID      int64 `json:"id"`
		Athlete struct {
			ID int64 `json:"id"`
		} `json:"athlete"`
		SegmentEfforts []effortPayload `json:"segment_efforts"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity %d: %w", activityID, err)
	}

	detail := &ActivityDetail{
		ActivityID:     payload.ID,
		AthleteID:      payload.Athlete.ID,
		SegmentEfforts: make([]EffortRecord, 0, len(payload.SegmentEfforts)),
	}
	for i := range payload.SegmentEfforts {
		detail.SegmentEfforts = append(detail.SegmentEfforts, payload.SegmentEfforts[i].toRecord())
	}

	return detail, nil
}

// GetSegmentEfforts fetches one athlete's efforts on one segment using
// that athlete's own token. The upstream only returns the token owner's
// efforts on this endpoint.
func (c *Client) GetSegmentEfforts(ctx context.Context, accessToken string, segmentID, athleteID int64) ([]EffortRecord, error) {
	params := url.Values{
		"segment_id": {strconv.FormatInt(segmentID, 10)},
		"athlete_id": {strconv.FormatInt(athleteID, 10)},
		"per_page":   {"200"},
	}
	path := "/segment_efforts?" + params.Encode()

	body, err := c.do(ctx, metrics.OpGetSegmentEfforts, path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get segment efforts for segment %d: %w", segmentID, err)
	}

	var payload []effortPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segment efforts: %w", err)
	}

	records := make([]EffortRecord, 0, len(payload))
	for i := range payload {
		rec := payload[i].toRecord()
		// The standalone endpoint omits the segment object on some shapes
		if rec.SegmentID == nil {
			rec.SegmentID = &segmentID
		}
		records = append(records, rec)
	}

	return records, nil
}

// GetSegmentLeaderboard fetches the top pageSize entries of a segment's
// upstream leaderboard. Any valid token works; leaderboard reads are not
// scoped to the subject athlete.
func (c *Client) GetSegmentLeaderboard(ctx context.Context, accessToken string, segmentID int64, pageSize int) ([]EffortRecord, error) {
	if pageSize < 1 {
		pageSize = 50
	}
	params := url.Values{
		"per_page": {strconv.Itoa(pageSize)},
	}
	path := fmt.Sprintf("/segments/%d/leaderboard?%s", segmentID, params.Encode())

	body, err := c.do(ctx, metrics.OpGetSegmentLeaderboard, path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard for segment %d: %w", segmentID, err)
	}

	var payload struct {
		Entries []struct {
			EffortID         *int64   `json:"effort_id"`
			AthleteID        *int64   `json:"athlete_id"`
			AthleteName      string   `json:"athlete_name"`
			ElapsedTime      *int64   `json:"elapsed_time"`
			MovingTime       int64    `json:"moving_time"`
			StartLocal       string   `json:"start_date_local"`
			AverageWatts     *float64 `json:"average_watts"`
			AverageHeartrate *float64 `json:"average_hr"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal leaderboard: %w", err)
	}

	records := make([]EffortRecord, 0, len(payload.Entries))
	for _, entry := range payload.Entries {
		records = append(records, EffortRecord{
			EffortID:         entry.EffortID,
			SegmentID:        &segmentID,
			AthleteID:        entry.AthleteID,
			AthleteName:      entry.AthleteName,
			ElapsedSeconds:   entry.ElapsedTime,
			MovingSeconds:    entry.MovingTime,
			StartDateLocal:   entry.StartLocal,
			AverageWatts:     entry.AverageWatts,
			AverageHeartrate: entry.AverageHeartrate,
		})
	}

	return records, nil
}
