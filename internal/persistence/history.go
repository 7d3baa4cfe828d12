package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/kvgribko/jobsched/internal/events"
)

// HistoryEntry is one recorded job event.
type HistoryEntry struct {
	RunID     string
	JobID     string
	Type      string
	Attempt   int
	Detail    string
	Timestamp time.Time
}

// RecordEvent appends a job event to the history of runID. Events that do not
// belong to a job (scheduler progress) are ignored.
func (s *SQLiteStore) RecordEvent(ctx context.Context, runID string, e events.Event) error {
	if e.JobID() == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	attempt, detail, ts := describeEvent(e)
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO job_events (run_id, job_id, type, attempt, detail, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, e.JobID(), e.EventType(), attempt, detail, ts.UTC())
		if err != nil {
			return fmt.Errorf("failed to record event: %w", err)
		}
		return nil
	})
}

func describeEvent(e events.Event) (attempt int, detail string, ts time.Time) {
	switch ev := e.(type) {
	case events.JobAdmittedEvent:
		return 0, ev.Task, ev.Timestamp
	case events.JobWaitingEvent:
		return 0, ev.Reason, ev.Timestamp
	case events.AttemptStartedEvent:
		return ev.Attempt, "", ev.Timestamp
	case events.AttemptFailedEvent:
		return ev.Attempt, errString(ev.Err), ev.Timestamp
	case events.JobCompletedEvent:
		return ev.Attempts, "", ev.Timestamp
	case events.JobFailedEvent:
		return ev.Attempts, errString(ev.Err), ev.Timestamp
	default:
		return 0, "", time.Now()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// History returns the recorded events of a job across all runs in
// chronological order. It returns an empty slice, not nil, when there are none.
func (s *SQLiteStore) History(ctx context.Context, jobID string) ([]HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// id breaks ties between events recorded within the same instant.
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, job_id, type, attempt, detail, timestamp
		FROM job_events
		WHERE job_id = ?
		ORDER BY timestamp ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []HistoryEntry{}
	for rows.Next() {
		var entry HistoryEntry
		if err := rows.Scan(&entry.RunID, &entry.JobID, &entry.Type, &entry.Attempt, &entry.Detail, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return history, nil
}
