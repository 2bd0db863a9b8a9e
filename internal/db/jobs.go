package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Cron Job Operations
// =============================================================================

// ScheduleCronJob inserts the pending occurrence for a hook unless one
// already exists. Returns true if a new row was written.
func (db *DB) ScheduleCronJob(job *CronJob) (bool, error) {
	job.CreatedAt = time.Now()

	query := `
		INSERT INTO cron_jobs (hook, schedule, next_run, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hook) DO NOTHING
	`

	result, err := db.Exec(query, job.Hook, job.Schedule, storedTime(job.NextRun), job.CreatedAt)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// GetCronJob retrieves the pending occurrence for a hook
func (db *DB) GetCronJob(hook string) (*CronJob, error) {
	job := &CronJob{}

	query := `
		SELECT hook, schedule, next_run, created_at
		FROM cron_jobs
		WHERE hook = ?
	`

	err := db.QueryRow(query, hook).Scan(&job.Hook, &job.Schedule, &job.NextRun, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return job, nil
}

// GetDueCronJobs retrieves all jobs whose next run is at or before now,
// oldest first
func (db *DB) GetDueCronJobs(now time.Time) ([]CronJob, error) {
	query := `
		SELECT hook, schedule, next_run, created_at
		FROM cron_jobs
		WHERE next_run <= ?
		ORDER BY next_run ASC
	`

	rows, err := db.Query(query, storedTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []CronJob{}
	for rows.Next() {
		var job CronJob
		if err := rows.Scan(&job.Hook, &job.Schedule, &job.NextRun, &job.CreatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// RescheduleCronJob moves the pending occurrence of a hook to a new time
func (db *DB) RescheduleCronJob(hook string, nextRun time.Time) error {
	result, err := db.Exec(`UPDATE cron_jobs SET next_run = ? WHERE hook = ?`, storedTime(nextRun), hook)
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

// DeleteCronJob removes the pending occurrence for a hook
func (db *DB) DeleteCronJob(hook string) error {
	result, err := db.Exec(`DELETE FROM cron_jobs WHERE hook = ?`, hook)
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

// storedTime normalizes timestamps that are compared in SQL so their text
// encodings order the same way as the instants they represent.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
