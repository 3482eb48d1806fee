package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Credentials table: OAuth tokens for athletes who connected their Strava account
CREATE TABLE IF NOT EXISTS credentials (
    athlete_id INTEGER PRIMARY KEY,

    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at INTEGER NOT NULL,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Segments table: tracked route segments with an optional challenge window
CREATE TABLE IF NOT EXISTS segments (
    segment_id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,

    -- Challenge window (unix timestamps, both inclusive). NULL = no window.
    start_date INTEGER,
    end_date INTEGER,

    created_at INTEGER NOT NULL
);

-- Registrations table: athlete opt-ins per segment challenge
CREATE TABLE IF NOT EXISTS registrations (
    segment_id INTEGER NOT NULL,
    athlete_id INTEGER NOT NULL,
    display_name TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    PRIMARY KEY (segment_id, athlete_id)
);

-- Efforts table: one recorded performance per athlete per attempt.
-- effort_id is the Strava effort ID and the sole idempotency key.
CREATE TABLE IF NOT EXISTS efforts (
    effort_id INTEGER PRIMARY KEY,
    segment_id INTEGER NOT NULL,
    athlete_id INTEGER NOT NULL,
    athlete_name TEXT NOT NULL,

    elapsed_seconds INTEGER NOT NULL,
    moving_seconds INTEGER NOT NULL,
    start_date INTEGER NOT NULL,  -- Local wall-clock of the performance

    average_watts REAL,
    device_watts BOOLEAN NOT NULL DEFAULT 0,
    average_heartrate REAL,
    max_heartrate REAL,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Checkpoints table: advisory last-synced marker per (segment, athlete)
CREATE TABLE IF NOT EXISTS checkpoints (
    segment_id INTEGER NOT NULL,
    athlete_id INTEGER NOT NULL,
    last_synced_at INTEGER NOT NULL,
    last_effort_id INTEGER NOT NULL,

    PRIMARY KEY (segment_id, athlete_id)
);

-- Poll jobs table: queue for asynchronous batch polls and backfills
CREATE TABLE IF NOT EXISTS poll_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_type TEXT NOT NULL,  -- 'poll_segment' or 'backfill_athlete'
    segment_id INTEGER NOT NULL,
    athlete_id INTEGER,      -- Set for backfill_athlete jobs only

    status TEXT NOT NULL DEFAULT 'ready',  -- 'ready', 'processing', 'failed'
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    next_retry_at INTEGER,
    processing_started_at INTEGER,

    created_at INTEGER NOT NULL
);

-- Indexes for registrations table
CREATE INDEX IF NOT EXISTS idx_registrations_athlete ON registrations(athlete_id);

-- Indexes for efforts table
CREATE INDEX IF NOT EXISTS idx_efforts_segment_elapsed ON efforts(segment_id, elapsed_seconds ASC);
CREATE INDEX IF NOT EXISTS idx_efforts_athlete ON efforts(athlete_id);
CREATE INDEX IF NOT EXISTS idx_efforts_segment_start ON efforts(segment_id, start_date);

-- Indexes for poll_jobs table
CREATE INDEX IF NOT EXISTS idx_poll_jobs_status ON poll_jobs(status, next_retry_at);
`
