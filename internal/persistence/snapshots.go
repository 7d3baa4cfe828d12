package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kvgribko/jobsched/internal/scheduler"
)

// Collection names as stored in snapshot_jobs.collection.
const (
	collectionPending   = "pending"
	collectionRunning   = "running"
	collectionCompleted = "completed"
	collectionFailed    = "failed"
)

// SnapshotInfo describes a stored snapshot.
type SnapshotInfo struct {
	Name    string
	Jobs    int
	SavedAt time.Time
}

// SaveSnapshot stores st under name, replacing any snapshot with that name.
// The replacement happens in one transaction, retried while the database is busy.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, name string, st scheduler.State) error {
	if name == "" {
		return errors.New("snapshot name cannot be empty")
	}
	return s.withRetry(ctx, func() error {
		return s.saveSnapshotTx(ctx, name, st)
	})
}

func (s *SQLiteStore) saveSnapshotTx(ctx context.Context, name string, st scheduler.State) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Drop the previous snapshot with this name
	if err := deleteSnapshotRows(ctx, tx, name); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (name, version, max_concurrent, saved_at)
		VALUES (?, ?, ?, ?)
	`, name, SchemaVersion, st.MaxConcurrent, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	// Position keeps the order of each collection
	collections := []struct {
		name string
		jobs []scheduler.JobState
	}{
		{collectionPending, st.Pending},
		{collectionRunning, st.Running},
		{collectionCompleted, st.Completed},
		{collectionFailed, st.Failed},
	}
	for _, c := range collections {
		for pos, js := range c.jobs {
			if err := insertSnapshotJob(ctx, tx, name, c.name, pos, js); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertSnapshotJob(ctx context.Context, tx *sql.Tx, snapshot, collection string, pos int, js scheduler.JobState) error {
	var startTime sql.NullString
	if js.StartTime != nil {
		startTime = sql.NullString{String: js.StartTime.String(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_jobs (snapshot, job_id, collection, position, task, duration_limit_ns,
			start_time, max_restarts, status, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snapshot, js.ID, collection, pos, js.Task, int64(js.DurationLimit),
		startTime, js.MaxRestarts, js.Status.String(), js.Attempts, js.LastError)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", js.ID, err)
	}

	for i, dep := range js.DependsOn {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_job_dependencies (snapshot, job_id, position, depends_on_id)
			VALUES (?, ?, ?, ?)
		`, snapshot, js.ID, i, dep)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", js.ID, dep, err)
		}
	}
	return nil
}

// LoadSnapshot reads the snapshot stored under name.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, name string) (scheduler.State, error) {
	var version, maxConcurrent int
	err := s.db.QueryRowContext(ctx, `
		SELECT version, max_concurrent FROM snapshots WHERE name = ?
	`, name).Scan(&version, &maxConcurrent)
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.State{}, fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return scheduler.State{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	if version != SchemaVersion {
		return scheduler.State{}, &scheduler.SerializationError{
			Op:  "decode",
			Err: fmt.Errorf("snapshot %q: %w: %d", name, ErrUnsupportedVersion, version),
		}
	}

	// Dependencies first so each job row can pick up its list
	deps, err := s.loadDependencies(ctx, name)
	if err != nil {
		return scheduler.State{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, collection, task, duration_limit_ns, start_time, max_restarts, status, attempts, last_error
		FROM snapshot_jobs
		WHERE snapshot = ?
		ORDER BY collection, position
	`, name)
	if err != nil {
		return scheduler.State{}, fmt.Errorf("failed to query snapshot jobs: %w", err)
	}
	defer rows.Close()

	st := scheduler.State{
		MaxConcurrent: maxConcurrent,
		Pending:       []scheduler.JobState{},
		Running:       []scheduler.JobState{},
		Completed:     []scheduler.JobState{},
		Failed:        []scheduler.JobState{},
	}
	for rows.Next() {
		var (
			js         scheduler.JobState
			collection string
			limitNS    int64
			startTime  sql.NullString
			status     string
			lastError  sql.NullString
		)
		if err := rows.Scan(&js.ID, &collection, &js.Task, &limitNS, &startTime,
			&js.MaxRestarts, &status, &js.Attempts, &lastError); err != nil {
			return scheduler.State{}, fmt.Errorf("failed to scan snapshot job: %w", err)
		}

		js.DurationLimit = time.Duration(limitNS)
		js.LastError = lastError.String
		js.DependsOn = deps[js.ID]
		if js.Status, err = scheduler.ParseStatus(status); err != nil {
			return scheduler.State{}, &scheduler.SerializationError{Op: "decode", Err: fmt.Errorf("job %q: %w", js.ID, err)}
		}
		if startTime.Valid {
			start, err := scheduler.ParseTimeOfDay(startTime.String)
			if err != nil {
				return scheduler.State{}, &scheduler.SerializationError{Op: "decode", Err: fmt.Errorf("job %q: %w", js.ID, err)}
			}
			js.StartTime = &start
		}

		switch collection {
		case collectionPending:
			st.Pending = append(st.Pending, js)
		case collectionRunning:
			st.Running = append(st.Running, js)
		case collectionCompleted:
			st.Completed = append(st.Completed, js)
		case collectionFailed:
			st.Failed = append(st.Failed, js)
		default:
			return scheduler.State{}, &scheduler.SerializationError{
				Op:  "decode",
				Err: fmt.Errorf("job %q: unknown collection %q", js.ID, collection),
			}
		}
	}
	if err := rows.Err(); err != nil {
		return scheduler.State{}, fmt.Errorf("error iterating snapshot jobs: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) loadDependencies(ctx context.Context, name string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, depends_on_id
		FROM snapshot_job_dependencies
		WHERE snapshot = ?
		ORDER BY job_id, position
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var jobID, depID string
		if err := rows.Scan(&jobID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps[jobID] = append(deps[jobID], depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

// ListSnapshots returns every stored snapshot, most recent first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.name, s.saved_at, COUNT(j.job_id)
		FROM snapshots s
		LEFT JOIN snapshot_jobs j ON j.snapshot = s.name
		GROUP BY s.name, s.saved_at
		ORDER BY s.saved_at DESC, s.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	infos := []SnapshotInfo{}
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.Name, &info.SavedAt, &info.Jobs); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return infos, nil
}

// DeleteSnapshot removes a snapshot and its jobs.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, name string) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE name = ?`, name).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
		}
		if err != nil {
			return fmt.Errorf("failed to query snapshot: %w", err)
		}
		if err := deleteSnapshotRows(ctx, tx, name); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// deleteSnapshotRows removes a snapshot children first, so it does not depend
// on foreign key enforcement being enabled on the connection.
func deleteSnapshotRows(ctx context.Context, tx *sql.Tx, name string) error {
	for _, stmt := range []string{
		`DELETE FROM snapshot_job_dependencies WHERE snapshot = ?`,
		`DELETE FROM snapshot_jobs WHERE snapshot = ?`,
		`DELETE FROM snapshots WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, name); err != nil {
			return fmt.Errorf("failed to delete snapshot %q: %w", name, err)
		}
	}
	return nil
}

// Snapshot binds the store to one snapshot name.
func (s *SQLiteStore) Snapshot(name string) StateStore {
	return namedSnapshot{store: s, name: name}
}

type namedSnapshot struct {
	store *SQLiteStore
	name  string
}

func (n namedSnapshot) SaveState(ctx context.Context, st scheduler.State) error {
	return n.store.SaveSnapshot(ctx, n.name, st)
}

func (n namedSnapshot) LoadState(ctx context.Context) (scheduler.State, error) {
	return n.store.LoadSnapshot(ctx, n.name)
}
