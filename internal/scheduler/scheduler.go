// Package scheduler runs ingestion and slot feed builds on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/thomaskoefod/trendframe/internal/config"
	"github.com/thomaskoefod/trendframe/internal/ingest"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

type Ingester interface {
	RunIngestion(ctx context.Context) (*ingest.Result, error)
}

type FeedGenerator interface {
	GenerateFeedForSlot(ctx context.Context, slot models.Slot) (int64, error)
}

// Scheduler owns the cron runner for the process lifetime. Each entry skips a
// tick while its previous run is still going.
type Scheduler struct {
	cron      *cron.Cron
	ingester  Ingester
	generator FeedGenerator
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the ingestion interval and the AM/PM feed builds, evaluated in loc.
func New(sched config.ScheduleConfig, loc *time.Location, ingester Ingester, generator FeedGenerator, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:      c,
		ingester:  ingester,
		generator: generator,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	entries := []struct {
		name string
		spec string
		job  func()
	}{
		{"ingestion", sched.Ingest, s.runIngestion},
		{"feed_am", sched.AM, func() { s.runFeed(models.SlotAM) }},
		{"feed_pm", sched.PM, func() { s.runFeed(models.SlotPM) }},
	}
	for _, e := range entries {
		if _, err := c.AddFunc(e.spec, e.job); err != nil {
			cancel()
			return nil, fmt.Errorf("adding %s schedule %q: %w", e.name, e.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) runIngestion() {
	res, err := s.ingester.RunIngestion(s.ctx)
	if err != nil {
		s.logger.Error("scheduled ingestion failed", "error", err)
		return
	}
	s.logger.Info("scheduled ingestion done", "scanned", res.Scanned, "inserted", res.Inserted, "failed_sources", res.FailedSources)
}

func (s *Scheduler) runFeed(slot models.Slot) {
	feedID, err := s.generator.GenerateFeedForSlot(s.ctx, slot)
	if err != nil {
		s.logger.Error("scheduled feed generation failed", "slot", slot, "error", err)
		return
	}
	s.logger.Info("scheduled feed generated", "slot", slot, "feed_id", feedID)
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Debug("scheduled", "entry", e.ID, "next", e.Next)
	}
}

// Stop halts new runs and waits for running jobs until ctx is done, after
// which the jobs' context is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err())
	}
}

// Next returns the next activation time of every entry.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.Next
	}
	return out
}

// cronLogger routes cron's own logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
