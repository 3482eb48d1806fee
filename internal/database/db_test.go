package database

import (
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCredentialOperations(t *testing.T) {
	db := openTestDB(t)

	t.Run("GetMissingCredential", func(t *testing.T) {
		cred, err := db.GetCredential(999)
		if err != nil {
			t.Fatalf("Failed to get credential: %v", err)
		}
		if cred != nil {
			t.Fatal("Expected nil credential for unknown athlete")
		}
	})

	t.Run("UpsertAndGet", func(t *testing.T) {
		cred := &Credential{
			AthleteID:    12345,
			AccessToken:  "access_1",
			RefreshToken: "refresh_1",
			ExpiresAt:    time.Now().Add(6 * time.Hour).Unix(),
		}

		if err := db.UpsertCredential(cred); err != nil {
			t.Fatalf("Failed to upsert credential: %v", err)
		}

		retrieved, err := db.GetCredential(12345)
		if err != nil {
			t.Fatalf("Failed to get credential: %v", err)
		}
		if retrieved == nil {
			t.Fatal("Expected credential to be found")
		}
		if retrieved.AccessToken != "access_1" {
			t.Errorf("Expected access token access_1, got %s", retrieved.AccessToken)
		}
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		cred := &Credential{
			AthleteID:    12345,
			AccessToken:  "access_2",
			RefreshToken: "refresh_2",
			ExpiresAt:    time.Now().Add(12 * time.Hour).Unix(),
		}
		if err := db.UpsertCredential(cred); err != nil {
			t.Fatalf("Failed to upsert credential: %v", err)
		}

		retrieved, err := db.GetCredential(12345)
		if err != nil {
			t.Fatalf("Failed to get credential: %v", err)
		}
		if retrieved.RefreshToken != "refresh_2" {
			t.Errorf("Expected refresh token refresh_2, got %s", retrieved.RefreshToken)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := db.DeleteCredential(12345); err != nil {
			t.Fatalf("Failed to delete credential: %v", err)
		}

		cred, err := db.GetCredential(12345)
		if err != nil {
			t.Fatalf("Failed to get credential: %v", err)
		}
		if cred != nil {
			t.Fatal("Expected credential to be gone after delete")
		}

		if err := db.DeleteCredential(12345); err == nil {
			t.Fatal("Expected error deleting missing credential")
		}
	})
}

func TestRegistrationOperations(t *testing.T) {
	db := openTestDB(t)

	if err := db.CreateRegistration(100, 1, "Alice"); err != nil {
		t.Fatalf("Failed to create registration: %v", err)
	}
	if err := db.CreateRegistration(100, 2, "Bob"); err != nil {
		t.Fatalf("Failed to create registration: %v", err)
	}
	if err := db.CreateRegistration(200, 1, "Alice"); err != nil {
		t.Fatalf("Failed to create registration: %v", err)
	}

	t.Run("DuplicateIsIdempotent", func(t *testing.T) {
		if err := db.CreateRegistration(100, 1, "Alice"); err != nil {
			t.Fatalf("Duplicate registration should not error: %v", err)
		}

		regs, err := db.AthletesForSegment(100)
		if err != nil {
			t.Fatalf("Failed to list athletes: %v", err)
		}
		if len(regs) != 2 {
			t.Errorf("Expected 2 registrations, got %d", len(regs))
		}
	})

	t.Run("SegmentsForAthlete", func(t *testing.T) {
		segments, err := db.SegmentsForAthlete(1)
		if err != nil {
			t.Fatalf("Failed to list segments: %v", err)
		}
		if len(segments) != 2 {
			t.Fatalf("Expected 2 segments, got %d", len(segments))
		}
		if segments[0] != 100 || segments[1] != 200 {
			t.Errorf("Unexpected segment IDs: %v", segments)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := db.DeleteRegistration(200, 1); err != nil {
			t.Fatalf("Failed to delete registration: %v", err)
		}

		segments, err := db.SegmentsForAthlete(1)
		if err != nil {
			t.Fatalf("Failed to list segments: %v", err)
		}
		if len(segments) != 1 {
			t.Errorf("Expected 1 segment after delete, got %d", len(segments))
		}
	})
}

func TestEffortOperations(t *testing.T) {
	db := openTestDB(t)

	watts := 250.0
	base := &Effort{
		EffortID:       9001,
		SegmentID:      100,
		AthleteID:      1,
		AthleteName:    "Alice",
		ElapsedSeconds: 600,
		MovingSeconds:  590,
		StartDate:      1000,
		AverageWatts:   &watts,
		DeviceWatts:    true,
	}

	if err := db.UpsertEffort(base); err != nil {
		t.Fatalf("Failed to upsert effort: %v", err)
	}

	t.Run("OverwriteByEffortID", func(t *testing.T) {
		updated := *base
		updated.ElapsedSeconds = 550
		updated.AverageWatts = nil

		if err := db.UpsertEffort(&updated); err != nil {
			t.Fatalf("Failed to overwrite effort: %v", err)
		}

		efforts, err := db.QueryEfforts(100, nil)
		if err != nil {
			t.Fatalf("Failed to query efforts: %v", err)
		}
		if len(efforts) != 1 {
			t.Fatalf("Expected 1 effort after overwrite, got %d", len(efforts))
		}
		if efforts[0].ElapsedSeconds != 550 {
			t.Errorf("Expected elapsed 550 after overwrite, got %d", efforts[0].ElapsedSeconds)
		}
		if efforts[0].AverageWatts != nil {
			t.Error("Expected average watts to be overwritten to null")
		}
	})

	t.Run("OrderingAndTieBreak", func(t *testing.T) {
		// Out-of-order arrival must not matter
		more := []*Effort{
			{EffortID: 9003, SegmentID: 100, AthleteID: 2, AthleteName: "Bob", ElapsedSeconds: 550, MovingSeconds: 540, StartDate: 500},
			{EffortID: 9002, SegmentID: 100, AthleteID: 3, AthleteName: "Cara", ElapsedSeconds: 700, MovingSeconds: 690, StartDate: 2000},
		}
		for _, e := range more {
			if err := db.UpsertEffort(e); err != nil {
				t.Fatalf("Failed to upsert effort: %v", err)
			}
		}

		efforts, err := db.QueryEfforts(100, nil)
		if err != nil {
			t.Fatalf("Failed to query efforts: %v", err)
		}
		if len(efforts) != 3 {
			t.Fatalf("Expected 3 efforts, got %d", len(efforts))
		}

		// 550s tie: effort 9003 has the earlier start date
		if efforts[0].EffortID != 9003 {
			t.Errorf("Expected effort 9003 first, got %d", efforts[0].EffortID)
		}
		if efforts[1].EffortID != 9001 {
			t.Errorf("Expected effort 9001 second, got %d", efforts[1].EffortID)
		}
		if efforts[2].EffortID != 9002 {
			t.Errorf("Expected effort 9002 third, got %d", efforts[2].EffortID)
		}
	})

	t.Run("WindowIsInclusive", func(t *testing.T) {
		efforts, err := db.QueryEfforts(100, &EffortWindow{Start: 500, End: 1000})
		if err != nil {
			t.Fatalf("Failed to query efforts: %v", err)
		}
		if len(efforts) != 2 {
			t.Fatalf("Expected 2 efforts in window, got %d", len(efforts))
		}
		for _, e := range efforts {
			if e.StartDate < 500 || e.StartDate > 1000 {
				t.Errorf("Effort %d outside window: start_date=%d", e.EffortID, e.StartDate)
			}
		}
	})

	t.Run("Count", func(t *testing.T) {
		count, err := db.CountEfforts(100)
		if err != nil {
			t.Fatalf("Failed to count efforts: %v", err)
		}
		if count != 3 {
			t.Errorf("Expected 3 efforts, got %d", count)
		}
	})
}

func TestSegmentOperations(t *testing.T) {
	db := openTestDB(t)

	start := int64(1000)
	end := int64(2000)

	if err := db.UpsertSegment(&Segment{SegmentID: 100, Name: "Hill Climb", StartDate: &start, EndDate: &end}); err != nil {
		t.Fatalf("Failed to upsert segment: %v", err)
	}

	segment, err := db.GetSegment(100)
	if err != nil {
		t.Fatalf("Failed to get segment: %v", err)
	}
	if segment == nil {
		t.Fatal("Expected segment to be found")
	}
	if segment.Name != "Hill Climb" {
		t.Errorf("Expected name Hill Climb, got %s", segment.Name)
	}
	if segment.StartDate == nil || *segment.StartDate != 1000 {
		t.Errorf("Unexpected start date: %v", segment.StartDate)
	}

	missing, err := db.GetSegment(999)
	if err != nil {
		t.Fatalf("Failed to get segment: %v", err)
	}
	if missing != nil {
		t.Fatal("Expected nil for unknown segment")
	}
}

func TestCheckpointOperations(t *testing.T) {
	db := openTestDB(t)

	cp, err := db.GetCheckpoint(100, 1)
	if err != nil {
		t.Fatalf("Failed to get checkpoint: %v", err)
	}
	if cp != nil {
		t.Fatal("Expected nil checkpoint before first sync")
	}

	if err := db.UpsertCheckpoint(&SyncCheckpoint{SegmentID: 100, AthleteID: 1, LastSyncedAt: 1000, LastEffortID: 9001}); err != nil {
		t.Fatalf("Failed to upsert checkpoint: %v", err)
	}
	if err := db.UpsertCheckpoint(&SyncCheckpoint{SegmentID: 100, AthleteID: 1, LastSyncedAt: 2000, LastEffortID: 9002}); err != nil {
		t.Fatalf("Failed to overwrite checkpoint: %v", err)
	}

	cp, err = db.GetCheckpoint(100, 1)
	if err != nil {
		t.Fatalf("Failed to get checkpoint: %v", err)
	}
	if cp == nil {
		t.Fatal("Expected checkpoint to be found")
	}
	if cp.LastSyncedAt != 2000 || cp.LastEffortID != 9002 {
		t.Errorf("Expected latest checkpoint values, got %+v", cp)
	}
}

func TestPollJobQueue(t *testing.T) {
	db := openTestDB(t)

	t.Run("EnqueueAndClaim", func(t *testing.T) {
		id, err := db.EnqueuePollJob(JobTypePollSegment, 100, nil)
		if err != nil {
			t.Fatalf("Failed to enqueue poll job: %v", err)
		}
		if id == 0 {
			t.Fatal("Expected non-zero job id")
		}

		length, err := db.GetPollJobQueueLength()
		if err != nil {
			t.Fatalf("Failed to get queue length: %v", err)
		}
		if length != 1 {
			t.Errorf("Expected queue length 1, got %d", length)
		}

		job, err := db.ClaimPollJob()
		if err != nil {
			t.Fatalf("Failed to claim poll job: %v", err)
		}
		if job == nil {
			t.Fatal("Expected a job to be claimed")
		}
		if job.JobType != JobTypePollSegment || job.SegmentID != 100 {
			t.Errorf("Unexpected job: %+v", job)
		}
		if job.AthleteID != nil {
			t.Error("Expected nil athlete ID for segment poll")
		}

		// Claimed jobs are invisible to other claimers
		second, err := db.ClaimPollJob()
		if err != nil {
			t.Fatalf("Failed second claim: %v", err)
		}
		if second != nil {
			t.Fatal("Expected no job available while first is processing")
		}

		if err := db.DeletePollJob(job.ID); err != nil {
			t.Fatalf("Failed to delete poll job: %v", err)
		}
	})

	t.Run("BackfillJobCarriesAthlete", func(t *testing.T) {
		athleteID := int64(55)
		id, err := db.EnqueuePollJob(JobTypeBackfillAthlete, 100, &athleteID)
		if err != nil {
			t.Fatalf("Failed to enqueue backfill job: %v", err)
		}

		job, err := db.ClaimPollJob()
		if err != nil {
			t.Fatalf("Failed to claim backfill job: %v", err)
		}
		if job == nil || job.ID != id {
			t.Fatalf("Expected to claim job %d, got %+v", id, job)
		}
		if job.AthleteID == nil || *job.AthleteID != 55 {
			t.Errorf("Expected athlete ID 55, got %v", job.AthleteID)
		}

		if err := db.DeletePollJob(job.ID); err != nil {
			t.Fatalf("Failed to delete poll job: %v", err)
		}
	})

	t.Run("ReleaseSchedulesRetry", func(t *testing.T) {
		id, err := db.EnqueuePollJob(JobTypePollSegment, 200, nil)
		if err != nil {
			t.Fatalf("Failed to enqueue poll job: %v", err)
		}

		job, err := db.ClaimPollJob()
		if err != nil || job == nil {
			t.Fatalf("Failed to claim poll job: %v", err)
		}

		willRetry, err := db.ReleasePollJob(job.ID, job.RetryCount, "upstream timeout")
		if err != nil {
			t.Fatalf("Failed to release poll job: %v", err)
		}
		if !willRetry {
			t.Fatal("Expected job to be retried")
		}

		// Backoff means it is not immediately claimable
		next, err := db.ClaimPollJob()
		if err != nil {
			t.Fatalf("Failed claim after release: %v", err)
		}
		if next != nil {
			t.Fatal("Expected no claimable job during backoff")
		}

		if err := db.DeletePollJob(id); err != nil {
			t.Fatalf("Failed to clean up poll job: %v", err)
		}
	})

	t.Run("DeadLetterAfterMaxRetries", func(t *testing.T) {
		id, err := db.EnqueuePollJob(JobTypePollSegment, 300, nil)
		if err != nil {
			t.Fatalf("Failed to enqueue poll job: %v", err)
		}

		willRetry, err := db.ReleasePollJob(id, MaxRetries, "persistent failure")
		if err != nil {
			t.Fatalf("Failed to release poll job: %v", err)
		}
		if willRetry {
			t.Fatal("Expected job to dead-letter after max retries")
		}

		// Failed jobs drop out of the active queue
		length, err := db.GetPollJobQueueLength()
		if err != nil {
			t.Fatalf("Failed to get queue length: %v", err)
		}
		if length != 0 {
			t.Errorf("Expected empty active queue, got %d", length)
		}

		failed, err := db.GetFailedPollJobs()
		if err != nil {
			t.Fatalf("Failed to list failed jobs: %v", err)
		}
		if len(failed) != 1 {
			t.Fatalf("Expected 1 failed job, got %d", len(failed))
		}
		if failed[0].LastError == nil || *failed[0].LastError != "persistent failure" {
			t.Errorf("Expected last error to be preserved, got %v", failed[0].LastError)
		}

		job, err := db.ClaimPollJob()
		if err != nil {
			t.Fatalf("Failed claim: %v", err)
		}
		if job != nil {
			t.Fatal("Dead-lettered jobs must not be claimable")
		}
	})
}
