// Package ingest pulls every enabled source, drops duplicates and stores the
// rest as scored items.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/internal/dedupe"
	"github.com/thomaskoefod/trendframe/internal/feed"
	"github.com/thomaskoefod/trendframe/internal/jobs"
	"github.com/thomaskoefod/trendframe/internal/metrics"
	"github.com/thomaskoefod/trendframe/internal/ranking"
	"github.com/thomaskoefod/trendframe/internal/translate"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

// Result summarises one ingestion run.
type Result struct {
	Scanned       int `json:"scanned"`
	Inserted      int `json:"inserted"`
	FailedSources int `json:"failed_sources"`
}

type Options struct {
	FetchConcurrency int
	// AbortOnSourceError fails the whole run on the first fetch error instead
	// of skipping the failing source.
	AbortOnSourceError  bool
	SimilarityThreshold float64
	HistoryWindow       int
}

type Pipeline struct {
	db         *database.DB
	ledger     *jobs.Ledger
	fetcher    feed.Fetcher
	translator translate.Translator
	detector   dedupe.Detector
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

func New(db *database.DB, ledger *jobs.Ledger, fetcher feed.Fetcher, translator translate.Translator, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if translator == nil {
		translator = translate.Noop{}
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	return &Pipeline{
		db:         db,
		ledger:     ledger,
		fetcher:    fetcher,
		translator: translator,
		detector:   dedupe.NewDetector(opts.SimilarityThreshold, opts.HistoryWindow),
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

type fetched struct {
	source     models.Source
	candidates []feed.Candidate
	err        error
}

// RunIngestion runs one ingestion pass under the job ledger. Fetching and
// title translation happen before the write transaction opens, so other
// writers are not locked out while network calls are pending. Item writes
// happen in a single transaction: any persistence error rolls back the whole
// run and the job is marked failed.
func (p *Pipeline) RunIngestion(ctx context.Context) (*Result, error) {
	var result *Result
	_, err := p.ledger.Run(ctx, jobs.TypeIngestion, func(ctx context.Context, log *slog.Logger) error {
		sources, err := p.db.EnabledSources(ctx)
		if err != nil {
			return err
		}

		batches, err := p.fetchAll(ctx, sources, log)
		if err != nil {
			return err
		}

		translations, err := p.translateAll(ctx, batches, log)
		if err != nil {
			return err
		}

		res := &Result{}
		err = p.db.InTx(ctx, func(q *database.Queries) error {
			return p.store(ctx, q, batches, translations, res, log)
		})
		if err != nil {
			return err
		}

		log.Info("ingestion finished",
			"sources", len(sources),
			"scanned", res.Scanned,
			"inserted", res.Inserted,
			"failed_sources", res.FailedSources,
		)
		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	return result, nil
}

// fetchAll fetches every source with bounded parallelism. Results keep source
// order. A source that fails is reported in its slot unless the run aborts on
// fetch errors.
func (p *Pipeline) fetchAll(ctx context.Context, sources []models.Source, log *slog.Logger) ([]fetched, error) {
	out := make([]fetched, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.FetchConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			candidates, err := p.fetcher.Fetch(gctx, src)
			out[i] = fetched{source: src, candidates: candidates, err: err}
			if err == nil {
				return nil
			}

			metrics.SourceFetchErrors.WithLabelValues(string(src.Type)).Inc()
			log.Warn("source fetch failed", "source", src.Name, "url", src.URL, "error", err)
			if p.opts.AbortOnSourceError {
				return fmt.Errorf("fetching source %s: %w", src.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// translateAll translates the titles of candidates that are not stored yet,
// keyed by canonical URL. It runs outside any transaction; the existence check
// is a plain read, and store repeats it under the write lock.
func (p *Pipeline) translateAll(ctx context.Context, batches []fetched, log *slog.Logger) (map[string]string, error) {
	out := make(map[string]string)
	tried := make(map[string]struct{})

	for _, b := range batches {
		if b.err != nil {
			continue
		}
		for _, c := range b.candidates {
			canonical := dedupe.CanonicalizeURL(c.URL)
			if _, ok := tried[canonical]; ok {
				continue
			}
			tried[canonical] = struct{}{}

			if translate.DetectLanguage(c.Title) == "ko" {
				continue
			}
			exists, err := p.db.CanonicalURLExists(ctx, canonical)
			if err != nil {
				return nil, err
			}
			if exists {
				continue
			}
			if r := p.translator.Translate(ctx, c.Title); r.OK {
				out[canonical] = r.Text
			}
		}
	}
	log.Debug("titles translated", "attempted", len(tried), "translated", len(out))
	return out, nil
}

func (p *Pipeline) store(ctx context.Context, q *database.Queries, batches []fetched, translations map[string]string, res *Result, log *slog.Logger) error {
	history, err := q.RecentTitles(ctx, p.detector.Window)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{})

	for _, b := range batches {
		if b.err != nil {
			res.FailedSources++
			continue
		}

		inserted := 0
		for _, c := range b.candidates {
			res.Scanned++

			canonical := dedupe.CanonicalizeURL(c.URL)
			if _, ok := seen[canonical]; ok {
				metrics.RecordItem("duplicate_url")
				continue
			}
			exists, err := q.CanonicalURLExists(ctx, canonical)
			if err != nil {
				return err
			}
			if exists {
				metrics.RecordItem("duplicate_url")
				continue
			}

			if p.detector.IsNearDuplicate(c.Title, history) {
				metrics.RecordItem("near_duplicate")
				log.Debug("skipping near-duplicate title", "source", b.source.Name, "title", c.Title)
				continue
			}

			item := p.buildItem(b.source, c, canonical, translations)
			if err := q.InsertItem(ctx, item); err != nil {
				return err
			}

			seen[canonical] = struct{}{}
			history = pushRecent(history, item.Title, p.detector.Window)
			res.Inserted++
			inserted++
			metrics.RecordItem("inserted")
		}

		if err := q.TouchSource(ctx, b.source.ID, p.now()); err != nil {
			return err
		}
		log.Debug("source ingested", "source", b.source.Name, "candidates", len(b.candidates), "inserted", inserted)
	}
	return nil
}

func (p *Pipeline) buildItem(src models.Source, c feed.Candidate, canonical string, translations map[string]string) *models.Item {
	now := p.now()
	item := &models.Item{
		SourceID:     src.ID,
		CanonicalURL: canonical,
		URL:          c.URL,
		Title:        c.Title,
		Summary:      c.Summary,
		PublishedAt:  c.PublishedAt,
		FetchedAt:    now,
		Language:     translate.DetectLanguage(c.Title),
		DedupeKey:    dedupe.TitleKey(c.Title),
		Score:        ranking.ComputeScore(src.Weight, c.PublishedAt, now),
	}

	if text, ok := translations[canonical]; ok {
		item.TranslatedTitle = &text
	}
	return item
}

// pushRecent puts title at the front of the most-recent-first history, keeping
// at most window entries.
func pushRecent(history []string, title string, window int) []string {
	history = append([]string{title}, history...)
	if len(history) > window {
		history = history[:window]
	}
	return history
}
