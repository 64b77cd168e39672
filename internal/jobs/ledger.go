// Package jobs records every pipeline run as a row that moves from running to
// success or failed exactly once.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/internal/metrics"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

const (
	TypeIngestion = "ingestion"

	// DefaultStaleAfter is how long a job may stay running before a sweep fails it.
	DefaultStaleAfter = 60 * time.Minute

	abandonedMessage = "abandoned"
)

// ErrNotRunning is returned when finishing a job that already left the running state.
var ErrNotRunning = database.ErrJobNotRunning

// FeedGenerationType is the job type of a slot's feed build.
func FeedGenerationType(slot models.Slot) string {
	return "feed_generation_" + string(slot)
}

// RunFunc is the body of a run. The logger carries the job and run identifiers.
type RunFunc func(ctx context.Context, log *slog.Logger) error

type Ledger struct {
	db         *database.DB
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewLedger(db *database.DB, staleAfter time.Duration, logger *slog.Logger) *Ledger {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		db:         db,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// Run records a running job, commits it, runs fn and then records the outcome
// in a separate write. fn's error is returned unchanged so callers can inspect
// it; a failure to record the outcome is joined to it.
func (l *Ledger) Run(ctx context.Context, jobType string, fn RunFunc) (*models.Job, error) {
	if _, err := l.SweepStale(ctx, jobType); err != nil {
		l.logger.Warn("stale job sweep failed", "error", err)
	}

	job, err := l.db.InsertJob(ctx, jobType, l.now())
	if err != nil {
		return nil, fmt.Errorf("opening %s job: %w", jobType, err)
	}

	log := l.logger.With("job_type", jobType, "job_id", job.ID, "run_id", uuid.NewString())
	log.Info("job started")
	started := time.Now()

	runErr := fn(ctx, log)

	status := models.JobSuccess
	var errMsg *string
	if runErr != nil {
		status = models.JobFailed
		msg := runErr.Error()
		errMsg = &msg
	}

	// The outcome is written even when ctx was cancelled mid-run.
	endedAt := l.now()
	finishErr := l.db.FinishJob(context.WithoutCancel(ctx), job.ID, status, errMsg, endedAt)

	elapsed := time.Since(started)
	metrics.RecordJob(jobType, string(status), elapsed.Seconds())

	job.Status = status
	job.ErrorMessage = errMsg
	ended := endedAt.UTC()
	job.EndedAt = &ended

	if runErr != nil {
		log.Error("job failed", "duration", elapsed, "error", runErr)
	} else {
		log.Info("job finished", "duration", elapsed)
	}

	if finishErr != nil {
		log.Error("recording job outcome failed", "error", finishErr)
		if runErr == nil {
			return job, fmt.Errorf("closing %s job: %w", jobType, finishErr)
		}
		return job, errors.Join(runErr, fmt.Errorf("closing %s job: %w", jobType, finishErr))
	}
	return job, runErr
}

// SweepStale fails running jobs of jobType started more than staleAfter ago.
// They belong to processes that died before recording an outcome. Other job
// types are left to their own runs.
func (l *Ledger) SweepStale(ctx context.Context, jobType string) (int64, error) {
	now := l.now()
	n, err := l.db.SweepStaleJobs(ctx, jobType, now.Add(-l.staleAfter), abandonedMessage, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.StaleJobs.Add(float64(n))
		l.logger.Warn("failed stale running jobs", "job_type", jobType, "count", n, "stale_after", l.staleAfter)
	}
	return n, nil
}

// Job returns one job by id, database.ErrNotFound when there is none.
func (l *Ledger) Job(ctx context.Context, id int64) (*models.Job, error) {
	return l.db.JobByID(ctx, id)
}

// Recent lists the newest jobs first
func (l *Ledger) Recent(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.db.RecentJobs(ctx, limit)
}
