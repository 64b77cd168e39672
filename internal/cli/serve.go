package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thomaskoefod/trendframe/internal/scheduler"
	"github.com/thomaskoefod/trendframe/internal/seeds"
	"github.com/thomaskoefod/trendframe/internal/server"
)

const shutdownTimeout = 15 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the ingestion/feed scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := seeds.Sync(ctx, a.db, cfg.Sources)
	if err != nil {
		return fmt.Errorf("syncing sources: %w", err)
	}
	logger.Info("sources synced", "created", sum.Created, "updated", sum.Updated, "total", sum.Total)
	checkRaindrop(ctx, a.raindrop, logger)

	var sched *scheduler.Scheduler
	if !cfg.Schedule.Disabled {
		sched, err = scheduler.New(cfg.Schedule, a.loc, a.pipeline, a.builder, logger)
		if err != nil {
			return err
		}
		sched.Start()
		logger.Info("scheduler started", "ingest", cfg.Schedule.Ingest, "am", cfg.Schedule.AM, "pm", cfg.Schedule.PM, "timezone", cfg.Timezone)
		for _, next := range sched.Next() {
			logger.Info("next scheduled run", "at", next.In(a.loc).Format(time.DateTime))
		}
	}

	if cfg.Server.AdminToken == "" {
		logger.Warn("no admin token configured, admin endpoints will answer 503")
	}
	srv := server.New(server.Deps{
		DB:         a.db,
		Ingester:   a.pipeline,
		Builder:    a.builder,
		Feedback:   a.feedback,
		Ledger:     a.ledger,
		Location:   a.loc,
		AdminToken: cfg.Server.AdminToken,
		Logger:     logger,
	})

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, fmt.Errorf("http server: %w", runErr))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
