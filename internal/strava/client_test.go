package strava

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("client-id", "client-secret", 5*time.Second)
	client.SetBaseURL(server.URL)
	client.SetTokenURL(server.URL + "/oauth/token")
	return client
}

func TestExchangeCode(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "authorization_code" {
			t.Errorf("Expected authorization_code grant, got %s", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("code") != "auth-code" {
			t.Errorf("Expected code auth-code, got %s", r.PostForm.Get("code"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "access",
			"refresh_token": "refresh",
			"expires_at": 1700000000,
			"athlete": {"id": 555, "firstname": "Jo"}
		}`))
	}))

	resp, err := client.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.AccessToken != "access" || resp.RefreshToken != "refresh" {
		t.Errorf("Unexpected tokens: %+v", resp)
	}
	if resp.ExpiresAt != 1700000000 {
		t.Errorf("Expected expires_at 1700000000, got %d", resp.ExpiresAt)
	}
	if len(resp.Athlete) == 0 {
		t.Error("Expected raw athlete payload to be retained")
	}
}

func TestGetActivityParsesEfforts(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/activities/777" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Unexpected auth header %s", r.Header.Get("Authorization"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 777,
			"athlete": {"id": 555},
			"segment_efforts": [
				{
					"id": 9001,
					"elapsed_time": 600,
					"moving_time": 590,
					"start_date_local": "2026-06-15T08:30:00Z",
					"segment": {"id": 100},
					"athlete": {"id": 555},
					"average_watts": 250.5,
					"device_watts": true,
					"average_heartrate": 160.0,
					"max_heartrate": 181.0
				},
				{
					"elapsed_time": 300,
					"start_date_local": "2026-06-15T08:40:00Z",
					"segment": {"id": 200},
					"athlete": {"id": 555}
				}
			]
		}`))
	}))

	activity, err := client.GetActivity(context.Background(), "tok", 777)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if activity.ActivityID != 777 || activity.AthleteID != 555 {
		t.Errorf("Unexpected activity identity: %+v", activity)
	}
	if len(activity.SegmentEfforts) != 2 {
		t.Fatalf("Expected 2 efforts, got %d", len(activity.SegmentEfforts))
	}

	first := activity.SegmentEfforts[0]
	if first.EffortID == nil || *first.EffortID != 9001 {
		t.Errorf("Unexpected effort ID: %v", first.EffortID)
	}
	if first.AverageWatts == nil || *first.AverageWatts != 250.5 {
		t.Errorf("Unexpected average watts: %v", first.AverageWatts)
	}
	if !first.DeviceWatts {
		t.Error("Expected device watts true")
	}

	// Second record omits the effort ID; the union type keeps it nil
	second := activity.SegmentEfforts[1]
	if second.EffortID != nil {
		t.Errorf("Expected nil effort ID, got %v", *second.EffortID)
	}
}

func TestGetSegmentEffortsFillsSegmentID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/segment_efforts" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("segment_id") != "100" || q.Get("athlete_id") != "555" {
			t.Errorf("Unexpected query: %v", q)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": 9001, "elapsed_time": 600, "start_date_local": "2026-06-15T08:30:00Z", "athlete": {"id": 555}}
		]`))
	}))

	records, err := client.GetSegmentEfforts(context.Background(), "tok", 100, 555)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].SegmentID == nil || *records[0].SegmentID != 100 {
		t.Errorf("Expected segment ID to be filled in, got %v", records[0].SegmentID)
	}
}

func TestGetSegmentLeaderboard(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/segments/100/leaderboard" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("per_page") != "25" {
			t.Errorf("Unexpected per_page %s", r.URL.Query().Get("per_page"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"entries": [
				{"effort_id": 9001, "athlete_id": 555, "athlete_name": "Jo R.", "elapsed_time": 550, "moving_time": 540, "start_date_local": "2026-06-15T08:30:00Z", "average_watts": 280.0, "average_hr": 165.0},
				{"effort_id": 9002, "athlete_id": 556, "athlete_name": "Sam K.", "elapsed_time": 600, "moving_time": 595, "start_date_local": "2026-06-14T09:00:00Z"}
			]
		}`))
	}))

	records, err := client.GetSegmentLeaderboard(context.Background(), "tok", 100, 25)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].AthleteName != "Jo R." {
		t.Errorf("Unexpected athlete name %s", records[0].AthleteName)
	}
	if records[0].SegmentID == nil || *records[0].SegmentID != 100 {
		t.Errorf("Expected segment ID 100, got %v", records[0].SegmentID)
	}
	if records[1].AverageWatts != nil {
		t.Error("Expected nil average watts for second entry")
	}
}

func TestErrorClassification(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Record Not Found"}`))
		}))

		_, err := client.GetActivity(context.Background(), "tok", 1)
		if !IsNotFound(err) {
			t.Fatalf("Expected not-found classification, got %v", err)
		}
		if IsUnavailable(err) {
			t.Error("404 must not be classified as unavailable")
		}
	})

	t.Run("RateLimitedWithRetryAfter", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
		}))

		_, err := client.GetActivity(context.Background(), "tok", 1)
		if !IsRateLimited(err) {
			t.Fatalf("Expected rate-limited classification, got %v", err)
		}
		if RetryAfter(err) != 120*time.Second {
			t.Errorf("Expected 120s retry hint, got %v", RetryAfter(err))
		}
	})

	t.Run("ServerErrorIsUnavailable", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

		_, err := client.GetActivity(context.Background(), "tok", 1)
		if !IsUnavailable(err) {
			t.Fatalf("Expected unavailable classification, got %v", err)
		}
	})

	t.Run("Unauthorized", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := client.GetActivity(context.Background(), "tok", 1)
		if !IsUnauthorized(err) {
			t.Fatalf("Expected unauthorized classification, got %v", err)
		}
	})
}

func TestRateLimitHeaderTracking(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "200,2000")
		w.Header().Set("X-RateLimit-Usage", "50,400")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 1, "athlete": {"id": 2}, "segment_efforts": []}`))
	}))

	if _, err := client.GetActivity(context.Background(), "tok", 1); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	status := client.RateLimitStatus()
	if status.Usage15Min != 50 || status.UsageDaily != 400 {
		t.Errorf("Unexpected usage: %+v", status)
	}
	if status.Usage15MinPct != 25.0 {
		t.Errorf("Expected 25%% 15min usage, got %f", status.Usage15MinPct)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/push_subscriptions":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("Failed to parse form: %v", err)
			}
			if r.PostForm.Get("callback_url") != "https://example.com/ingest/event" {
				t.Errorf("Unexpected callback URL %s", r.PostForm.Get("callback_url"))
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id": 42, "application_id": 1, "callback_url": "https://example.com/ingest/event"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/push_subscriptions":
			w.Write([]byte(`[{"id": 42, "application_id": 1, "callback_url": "https://example.com/ingest/event"}]`))
		case r.Method == http.MethodDelete && r.URL.Path == "/push_subscriptions/42":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ctx := context.Background()

	sub, err := client.CreateSubscription(ctx, "https://example.com/ingest/event", "verify")
	if err != nil {
		t.Fatalf("Failed to create subscription: %v", err)
	}
	if sub.ID != 42 {
		t.Errorf("Expected subscription ID 42, got %d", sub.ID)
	}

	subs, err := client.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("Failed to list subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != 42 {
		t.Errorf("Unexpected subscriptions: %+v", subs)
	}

	if err := client.DeleteSubscription(ctx, 42); err != nil {
		t.Fatalf("Failed to delete subscription: %v", err)
	}
}
