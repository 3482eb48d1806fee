package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Queue types
	QueueTypePollJob = "poll_job"

	// Queue results
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultDropped = "dropped"
	ResultFailure = "failure"

	// Worker outcomes
	OutcomePollJobFound = "poll_job_found"
	OutcomeIdle         = "idle"

	// HTTP endpoints
	EndpointOAuthStart    = "oauth_start"
	EndpointOAuthCallback = "oauth_callback"
	EndpointIngestVerify  = "ingest_verify"
	EndpointIngestEvent   = "ingest_event"
	EndpointIngestPoll    = "ingest_poll"
	EndpointLeaderboard   = "leaderboard"
	EndpointHealth        = "health"

	// Ingestion sources
	SourceWebhook  = "webhook"
	SourcePoll     = "poll"
	SourceBackfill = "backfill"

	// Event outcomes
	EventOutcomeOK      = "ok"
	EventOutcomeIgnored = "ignored"
	EventOutcomeError   = "error"

	// Strava API operations
	OpExchangeCode           = "exchange_code"
	OpRefreshToken           = "refresh_token"
	OpGetActivity            = "get_activity"
	OpGetSegmentEfforts      = "get_segment_efforts"
	OpGetSegmentLeaderboard  = "get_segment_leaderboard"
	OpCreateSubscription     = "create_subscription"
	OpDeleteSubscription     = "delete_subscription"
	OpListSubscriptions      = "list_subscriptions"

	// Database operations
	DBOpUpsertEffort   = "upsert_effort"
	DBOpQueryEfforts   = "query_efforts"
	DBOpEnqueuePollJob = "enqueue_poll_job"
	DBOpClaimPollJob   = "claim_poll_job"
	DBOpDeletePollJob  = "delete_poll_job"
	DBOpReleasePollJob = "release_poll_job"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Queue Metrics
var (
	QueueDepthTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth_total",
			Help: "Total number of items in queue (all states)",
		},
		[]string{"queue_type"},
	)

	QueueEnqueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_enqueue_total",
			Help: "Total number of items enqueued",
		},
		[]string{"queue_type"},
	)

	QueueDequeueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dequeue_total",
			Help: "Total number of items dequeued with outcome",
		},
		[]string{"queue_type", "result"},
	)

	QueueProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_processing_duration_seconds",
			Help:    "Time spent processing queue items",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"queue_type", "result"},
	)

	QueueRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_retry_total",
			Help: "Total number of retry attempts",
		},
		[]string{"queue_type", "retry_count"},
	)
)

// Worker Metrics
var (
	WorkerPollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_poll_cycles_total",
			Help: "Total number of worker poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether the worker is currently active (1) or not (0)",
		},
	)
)

// Strava API Metrics
var (
	StravaAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strava_api_requests_total",
			Help: "Total number of Strava API requests",
		},
		[]string{"operation", "status_code"},
	)

	StravaAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strava_api_request_duration_seconds",
			Help:    "Strava API request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status_code"},
	)

	StravaRateLimitUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strava_rate_limit_usage",
			Help: "Strava API rate limit usage",
		},
		[]string{"limit_type", "bucket"},
	)

	UpstreamBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "upstream_breaker_state",
			Help: "Upstream circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)
)

// Business Metrics
var (
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events received, by outcome",
		},
		[]string{"outcome"},
	)

	EffortsUpsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efforts_upserted_total",
			Help: "Total number of efforts upserted, by ingestion source",
		},
		[]string{"source"},
	)

	EffortsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efforts_skipped_total",
			Help: "Total number of efforts skipped during ingestion, by reason",
		},
		[]string{"source", "reason"},
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total number of OAuth token refreshes, by result",
		},
		[]string{"result"},
	)

	PollRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_runs_total",
			Help: "Total number of poll runs, by job type and result",
		},
		[]string{"job_type", "result"},
	)
)
