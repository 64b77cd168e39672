package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thomaskoefod/trendframe/internal/config"
	"github.com/thomaskoefod/trendframe/internal/curate"
	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/internal/feed"
	"github.com/thomaskoefod/trendframe/internal/feedback"
	"github.com/thomaskoefod/trendframe/internal/ingest"
	"github.com/thomaskoefod/trendframe/internal/jobs"
	"github.com/thomaskoefod/trendframe/internal/raindrop"
	"github.com/thomaskoefod/trendframe/internal/translate"
)

const raindropCheckTimeout = 10 * time.Second

// app holds the wired engine for one process.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	db       *database.DB
	ledger   *jobs.Ledger
	pipeline *ingest.Pipeline
	builder  *curate.Builder
	feedback *feedback.Service
	raindrop *raindrop.Client
	logger   *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	staleAfter, err := cfg.Jobs.GetStaleAfter()
	if err != nil {
		return nil, fmt.Errorf("parsing jobs.stale_after: %w", err)
	}
	fetchTimeout, err := cfg.Ingestion.GetRequestTimeout()
	if err != nil {
		return nil, fmt.Errorf("parsing ingestion.request_timeout: %w", err)
	}
	translator, err := translate.FromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	ledger := jobs.NewLedger(db, staleAfter, logger)
	fetchers := feed.NewRegistry(
		feed.NewRSSFetcher(fetchTimeout, cfg.Ingestion.RSSLimit),
		feed.NewHNFetcher(cfg.Ingestion.HNSearchURL, fetchTimeout, cfg.Ingestion.HNLimit),
	)

	cur := cfg.Curation
	pipeline := ingest.New(db, ledger, fetchers, translator, ingest.Options{
		FetchConcurrency:    cfg.Ingestion.FetchConcurrency,
		AbortOnSourceError:  cfg.Ingestion.AbortOnSourceError,
		SimilarityThreshold: cur.TitleSimilarityThreshold,
		HistoryWindow:       cur.TitleHistoryWindow,
	}, logger)

	builder := curate.NewBuilder(db, ledger, curate.Options{
		Limits: curate.Limits{
			TargetPerCategory: cur.FeedTargetItemsPerCategory,
			MaxPerCategory:    cur.FeedMaxItemsPerCategory,
			MaxTotal:          cur.FeedMaxItemsTotal,
		},
		MinItems: cur.FeedMinItems,
		Lookback: cur.Lookback(),
		Location: loc,
	}, nil, logger)

	rd := raindrop.NewClient(cfg.Raindrop.APIToken)

	return &app{
		cfg:      cfg,
		loc:      loc,
		db:       db,
		ledger:   ledger,
		pipeline: pipeline,
		builder:  builder,
		feedback: feedback.NewService(db, rd, logger),
		raindrop: rd,
		logger:   logger,
	}, nil
}

// checkRaindrop verifies the Raindrop.io token when bookmarking is enabled. A
// bad token is only logged: saving feedback still works without the push.
func checkRaindrop(ctx context.Context, rd *raindrop.Client, logger *slog.Logger) bool {
	if !rd.Enabled() {
		logger.Debug("raindrop bookmarking disabled")
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, raindropCheckTimeout)
	defer cancel()
	if err := rd.TestConnection(ctx); err != nil {
		logger.Warn("raindrop token check failed, bookmark pushes will likely fail", "error", err)
		return false
	}
	logger.Info("raindrop bookmarking enabled")
	return true
}

func (a *app) Close() error {
	return a.db.Close()
}
