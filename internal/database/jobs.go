package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thomaskoefod/trendframe/pkg/models"
)

// InsertJob records a run in the running state.
func (q *Queries) InsertJob(ctx context.Context, jobType string, startedAt time.Time) (*models.Job, error) {
	result, err := q.q.ExecContext(ctx,
		"INSERT INTO jobs (job_type, started_at, status) VALUES (?, ?, ?)",
		jobType, formatTime(startedAt), models.JobRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting last insert id: %w", err)
	}
	return &models.Job{ID: id, JobType: jobType, StartedAt: startedAt.UTC(), Status: models.JobRunning}, nil
}

// FinishJob moves a running job to success or failed. Jobs that already left
// the running state are not touched and ErrJobNotRunning is returned.
func (q *Queries) FinishJob(ctx context.Context, id int64, status models.JobStatus, errMsg *string, endedAt time.Time) error {
	if status != models.JobSuccess && status != models.JobFailed {
		return fmt.Errorf("finishing job %d: invalid terminal status %q", id, status)
	}
	result, err := q.q.ExecContext(ctx,
		"UPDATE jobs SET status = ?, error_message = ?, ended_at = ? WHERE id = ? AND status = ?",
		status, errMsg, formatTime(endedAt), id, models.JobRunning,
	)
	if err != nil {
		return fmt.Errorf("finishing job %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing job %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finishing job %d: %w", id, ErrJobNotRunning)
	}
	return nil
}

// SweepStaleJobs fails running jobs of jobType started before cutoff. An empty
// jobType sweeps every type.
func (q *Queries) SweepStaleJobs(ctx context.Context, jobType string, cutoff time.Time, message string, endedAt time.Time) (int64, error) {
	result, err := q.q.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, ended_at = ?
		WHERE status = ? AND started_at < ? AND (? = '' OR job_type = ?)`,
		models.JobFailed, message, formatTime(endedAt), models.JobRunning, formatTime(cutoff), jobType, jobType,
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping stale jobs: %w", err)
	}
	return result.RowsAffected()
}

// JobByID retrieves a single job
func (q *Queries) JobByID(ctx context.Context, id int64) (*models.Job, error) {
	jobs, err := q.queryJobs(ctx, "SELECT id, job_type, started_at, ended_at, status, error_message FROM jobs WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("querying job %d: %w", id, err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return &jobs[0], nil
}

// RecentJobs lists the newest jobs first
func (q *Queries) RecentJobs(ctx context.Context, limit int) ([]models.Job, error) {
	jobs, err := q.queryJobs(ctx,
		"SELECT id, job_type, started_at, ended_at, status, error_message FROM jobs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent jobs: %w", err)
	}
	return jobs, nil
}

func (q *Queries) queryJobs(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var (
			job       models.Job
			startedAt string
			endedAt   sql.NullString
			errMsg    sql.NullString
		)
		if err := rows.Scan(&job.ID, &job.JobType, &startedAt, &endedAt, &job.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		if job.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if job.EndedAt, err = parseNullTime(endedAt); err != nil {
			return nil, err
		}
		job.ErrorMessage = nullStringPtr(errMsg)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
