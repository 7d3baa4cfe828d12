package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		name TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		max_concurrent INTEGER NOT NULL,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS snapshot_jobs (
		snapshot TEXT NOT NULL,
		job_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		position INTEGER NOT NULL,
		task TEXT NOT NULL,
		duration_limit_ns INTEGER NOT NULL DEFAULT 0,
		start_time TEXT,
		max_restarts INTEGER NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		last_error TEXT,
		PRIMARY KEY (snapshot, job_id),
		FOREIGN KEY (snapshot) REFERENCES snapshots(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_snapshot_jobs_order
		ON snapshot_jobs(snapshot, collection, position);

	CREATE TABLE IF NOT EXISTS snapshot_job_dependencies (
		snapshot TEXT NOT NULL,
		job_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (snapshot, job_id, position),
		FOREIGN KEY (snapshot, job_id) REFERENCES snapshot_jobs(snapshot, job_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS job_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		type TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		detail TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_events_job_timestamp
		ON job_events(job_id, timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
