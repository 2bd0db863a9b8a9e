package db

import (
	"database/sql"
	"time"
)

// Job run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// CreateJobRun creates a new job run record
func (db *DB) CreateJobRun(run *JobRun) error {
	query := `
		INSERT INTO job_runs (run_id, hook, scheduled_at, started_at, completed_at, status, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		run.RunID,
		run.Hook,
		storedTime(run.ScheduledAt),
		run.StartedAt,
		run.CompletedAt,
		run.Status,
		run.Success,
		run.Error,
	)

	return err
}

// GetJobRun retrieves a job run by its run ID
func (db *DB) GetJobRun(runID string) (*JobRun, error) {
	run := &JobRun{}

	query := `
		SELECT run_id, hook, scheduled_at, started_at, completed_at, status, success, error
		FROM job_runs
		WHERE run_id = ?
	`

	err := db.QueryRow(query, runID).Scan(
		&run.RunID,
		&run.Hook,
		&run.ScheduledAt,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Status,
		&run.Success,
		&run.Error,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return run, nil
}

// GetJobRuns retrieves the most recent runs for a hook
func (db *DB) GetJobRuns(hook string, limit int) ([]JobRun, error) {
	query := `
		SELECT run_id, hook, scheduled_at, started_at, completed_at, status, success, error
		FROM job_runs
		WHERE hook = ?
		ORDER BY scheduled_at DESC
		LIMIT ?
	`

	rows, err := db.Query(query, hook, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []JobRun{}
	for rows.Next() {
		var run JobRun
		err := rows.Scan(
			&run.RunID,
			&run.Hook,
			&run.ScheduledAt,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Status,
			&run.Success,
			&run.Error,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// CompleteJobRun marks a job run as completed
func (db *DB) CompleteJobRun(runID string, success bool, errorMsg *string) error {
	now := time.Now()
	status := RunStatusCompleted
	if !success {
		status = RunStatusFailed
	}

	query := `
		UPDATE job_runs
		SET status = ?, completed_at = ?, success = ?, error = ?
		WHERE run_id = ?
	`

	result, err := db.Exec(query, status, now, success, errorMsg, runID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// PruneJobRuns deletes runs scheduled before the cutoff and returns how
// many were removed
func (db *DB) PruneJobRuns(before time.Time) (int64, error) {
	result, err := db.Exec(`DELETE FROM job_runs WHERE scheduled_at < ?`, storedTime(before))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
