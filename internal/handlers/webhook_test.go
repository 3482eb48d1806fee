package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"club-segment-sync/internal/config"
	"club-segment-sync/internal/database"
	"club-segment-sync/internal/ingest"
	"club-segment-sync/internal/strava"
	"club-segment-sync/internal/token"
)

func newWebhookFixture(t *testing.T, upstream http.Handler) (*WebhookHandler, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if upstream == nil {
		upstream = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("Unexpected upstream call: %s %s", r.Method, r.URL.Path)
		})
	}
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	client := strava.NewClient("client-id", "client-secret", 5*time.Second)
	client.SetBaseURL(server.URL)
	client.SetTokenURL(server.URL + "/oauth/token")

	tokens := token.NewManager(db, client, 300*time.Second)
	pipeline := ingest.NewPipeline(db, client, tokens, 50)

	cfg := &config.Config{StravaVerifyToken: "secret-token"}

	return NewWebhookHandler(pipeline, cfg), db
}

func TestHandleVerification(t *testing.T) {
	handler, _ := newWebhookFixture(t, nil)

	t.Run("ValidHandshake", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/ingest/event?hub.mode=subscribe&hub.challenge=abc123&hub.verify_token=secret-token", nil)
		w := httptest.NewRecorder()

		handler.HandleVerification(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		var resp map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if resp["hub.challenge"] != "abc123" {
			t.Errorf("Expected challenge to be echoed, got %v", resp)
		}
	})

	t.Run("WrongToken", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/ingest/event?hub.mode=subscribe&hub.challenge=abc123&hub.verify_token=wrong", nil)
		w := httptest.NewRecorder()

		handler.HandleVerification(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("Expected 403 for wrong token, got %d", w.Code)
		}
	})

	t.Run("WrongMode", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/ingest/event?hub.mode=unsubscribe&hub.challenge=abc123&hub.verify_token=secret-token", nil)
		w := httptest.NewRecorder()

		handler.HandleVerification(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("Expected 403 for wrong mode, got %d", w.Code)
		}
	})
}

func TestHandleEventAlwaysAcks(t *testing.T) {
	t.Run("IgnoredEvent", func(t *testing.T) {
		handler, _ := newWebhookFixture(t, nil)

		body := `{"object_type": "athlete", "object_id": 555, "aspect_type": "update", "owner_id": 555}`
		req := httptest.NewRequest(http.MethodPost, "/ingest/event", strings.NewReader(body))
		w := httptest.NewRecorder()

		handler.HandleEvent(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		var result ingest.Result
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if result.Status != ingest.StatusIgnored {
			t.Errorf("Expected ignored, got %s", result.Status)
		}
	})

	t.Run("MalformedBodyStillAcks", func(t *testing.T) {
		handler, _ := newWebhookFixture(t, nil)

		req := httptest.NewRequest(http.MethodPost, "/ingest/event", strings.NewReader("{not json"))
		w := httptest.NewRecorder()

		handler.HandleEvent(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200 even for malformed body, got %d", w.Code)
		}

		var result ingest.Result
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if result.Status != ingest.StatusError {
			t.Errorf("Expected error status in body, got %s", result.Status)
		}
	})

	t.Run("ProcessingFailureStillAcks", func(t *testing.T) {
		// Upstream is down; processing fails but the ack is still 200
		handler, db := newWebhookFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

		if err := db.CreateRegistration(100, 555, "Jo"); err != nil {
			t.Fatalf("Failed to register: %v", err)
		}
		if err := db.UpsertCredential(&database.Credential{
			AthleteID: 555, AccessToken: "tok", RefreshToken: "refresh",
			ExpiresAt: time.Now().Add(6 * time.Hour).Unix(),
		}); err != nil {
			t.Fatalf("Failed to seed credential: %v", err)
		}

		body := `{"object_type": "activity", "object_id": 777, "aspect_type": "create", "owner_id": 555}`
		req := httptest.NewRequest(http.MethodPost, "/ingest/event", strings.NewReader(body))
		w := httptest.NewRecorder()

		handler.HandleEvent(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200 despite processing failure, got %d", w.Code)
		}

		var result ingest.Result
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if result.Status != ingest.StatusError {
			t.Errorf("Expected error status in body, got %s", result.Status)
		}
	})
}
