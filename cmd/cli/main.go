package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"club-segment-sync/internal/config"
	"club-segment-sync/internal/database"
	"club-segment-sync/internal/strava"
)

func main() {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	client := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret, cfg.UpstreamTimeout())
	ctx := context.Background()

	switch command {
	case "subscribe":
		handleSubscribe(ctx, client, cfg)
	case "subscriptions":
		handleListSubscriptions(ctx, client)
	case "unsubscribe":
		handleUnsubscribe(ctx, client, args)
	case "add-segment":
		handleAddSegment(db, args)
	case "segments":
		handleListSegments(db)
	case "register":
		handleRegister(db, args)
	case "enqueue-poll":
		handleEnqueuePoll(db, args)
	case "failed-jobs":
		handleFailedJobs(db)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`club-segment-sync CLI - Administration

Usage:
  cli <command> [options]

Commands:
  subscribe                        Create the Strava webhook subscription
  subscriptions                    List active webhook subscriptions
  unsubscribe <id>                 Delete a webhook subscription
  add-segment <id> <name> [start] [end]
                                   Configure a segment challenge; start and
                                   end are inclusive RFC 3339 timestamps
  segments                         List configured segments
  register <segment-id> <athlete-id> <display-name>
                                   Register an athlete for a segment
  enqueue-poll <segment-id> [athlete-id]
                                   Queue a leaderboard poll, or a backfill
                                   when an athlete ID is given
  failed-jobs                      List dead-lettered poll jobs
  help                             Show this help message

Examples:
  cli subscribe
  cli add-segment 1234567 "Col du Test" 2026-06-01T00:00:00Z 2026-08-31T23:59:59Z
  cli register 1234567 555 "Jo Rider"
  cli enqueue-poll 1234567`)
}

func handleSubscribe(ctx context.Context, client *strava.Client, cfg *config.Config) {
	if cfg.Domain == "" {
		fmt.Fprintln(os.Stderr, "Error: DOMAIN must be set to build the callback URL")
		os.Exit(1)
	}

	callbackURL := fmt.Sprintf("https://%s/ingest/event", cfg.Domain)

	fmt.Printf("Creating webhook subscription...\n")
	fmt.Printf("Callback URL: %s\n\n", callbackURL)

	subscription, err := client.CreateSubscription(ctx, callbackURL, cfg.StravaVerifyToken)
	if err != nil {
		if httpErr, ok := err.(*strava.HTTPError); ok {
			fmt.Fprintf(os.Stderr, "Error: Subscription creation failed (HTTP %d)\n", httpErr.StatusCode)
			fmt.Fprintf(os.Stderr, "Response: %s\n", httpErr.Body)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Println("Subscription created successfully!")
	fmt.Printf("  ID: %d\n", subscription.ID)
}

func handleListSubscriptions(ctx context.Context, client *strava.Client) {
	subscriptions, err := client.ListSubscriptions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list subscriptions: %v\n", err)
		os.Exit(1)
	}

	if len(subscriptions) == 0 {
		fmt.Println("No active subscriptions found.")
		return
	}

	fmt.Printf("Found %d subscription(s):\n\n", len(subscriptions))
	for _, sub := range subscriptions {
		fmt.Printf("ID: %d\n", sub.ID)
		fmt.Printf("  Callback URL: %s\n", sub.CallbackURL)
		fmt.Printf("  Created: %s\n", sub.CreatedAt)
		fmt.Println()
	}
}

func handleUnsubscribe(ctx context.Context, client *strava.Client, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: unsubscribe requires a subscription ID")
		os.Exit(1)
	}

	subscriptionID, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid subscription ID: %s\n", args[0])
		os.Exit(1)
	}

	if err := client.DeleteSubscription(ctx, subscriptionID); err != nil {
		if httpErr, ok := err.(*strava.HTTPError); ok && httpErr.StatusCode == 404 {
			fmt.Fprintf(os.Stderr, "Error: Subscription %d not found\n", subscriptionID)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Println("Subscription deleted successfully!")
}

func handleAddSegment(db *database.DB, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Error: add-segment requires a segment ID and name")
		os.Exit(1)
	}

	segmentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid segment ID: %s\n", args[0])
		os.Exit(1)
	}

	segment := &database.Segment{
		SegmentID: segmentID,
		Name:      args[1],
	}

	if len(args) >= 4 {
		start, err := time.Parse(time.RFC3339, args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid start time: %s\n", args[2])
			os.Exit(1)
		}
		end, err := time.Parse(time.RFC3339, args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid end time: %s\n", args[3])
			os.Exit(1)
		}
		startUnix, endUnix := start.Unix(), end.Unix()
		segment.StartDate = &startUnix
		segment.EndDate = &endUnix
	}

	if err := db.UpsertSegment(segment); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to save segment: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Segment %d (%s) configured.\n", segmentID, segment.Name)
}

func handleListSegments(db *database.DB) {
	segments, err := db.ListSegments()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list segments: %v\n", err)
		os.Exit(1)
	}

	if len(segments) == 0 {
		fmt.Println("No segments configured.")
		return
	}

	for _, s := range segments {
		fmt.Printf("ID: %d  Name: %s", s.SegmentID, s.Name)
		if s.StartDate != nil && s.EndDate != nil {
			fmt.Printf("  Window: %s .. %s",
				time.Unix(*s.StartDate, 0).UTC().Format(time.RFC3339),
				time.Unix(*s.EndDate, 0).UTC().Format(time.RFC3339))
		}
		fmt.Println()
	}
}

func handleRegister(db *database.DB, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: register requires a segment ID, athlete ID, and display name")
		os.Exit(1)
	}

	segmentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid segment ID: %s\n", args[0])
		os.Exit(1)
	}
	athleteID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid athlete ID: %s\n", args[1])
		os.Exit(1)
	}

	if err := db.CreateRegistration(segmentID, athleteID, args[2]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to register: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Registered athlete %d for segment %d.\n", athleteID, segmentID)
}

func handleEnqueuePoll(db *database.DB, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: enqueue-poll requires a segment ID")
		os.Exit(1)
	}

	segmentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid segment ID: %s\n", args[0])
		os.Exit(1)
	}

	jobType := database.JobTypePollSegment
	var athleteID *int64
	if len(args) >= 2 {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid athlete ID: %s\n", args[1])
			os.Exit(1)
		}
		athleteID = &id
		jobType = database.JobTypeBackfillAthlete
	}

	jobID, err := db.EnqueuePollJob(jobType, segmentID, athleteID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to enqueue poll job: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Enqueued %s job %d.\n", jobType, jobID)
}

func handleFailedJobs(db *database.DB) {
	jobs, err := db.GetFailedPollJobs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list failed jobs: %v\n", err)
		os.Exit(1)
	}

	if len(jobs) == 0 {
		fmt.Println("No failed poll jobs.")
		return
	}

	fmt.Printf("Found %d failed job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("ID: %d  Type: %s  Segment: %d", job.ID, job.JobType, job.SegmentID)
		if job.AthleteID != nil {
			fmt.Printf("  Athlete: %d", *job.AthleteID)
		}
		fmt.Printf("  Retries: %d\n", job.RetryCount)
		if job.LastError != nil {
			fmt.Printf("  Last error: %s\n", *job.LastError)
		}
		fmt.Println()
	}
}
