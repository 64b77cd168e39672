package curate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/internal/jobs"
	"github.com/thomaskoefod/trendframe/internal/metrics"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

type Options struct {
	Limits
	MinItems int
	Lookback time.Duration
	// Location decides which calendar day a build belongs to.
	Location *time.Location
}

type Builder struct {
	db     *database.DB
	ledger *jobs.Ledger
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBuilder creates a feed builder. A nil rng is seeded randomly.
func NewBuilder(db *database.DB, ledger *jobs.Ledger, opts Options, rng *rand.Rand, logger *slog.Logger) *Builder {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		db:     db,
		ledger: ledger,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		rng:    rng,
	}
}

// FeedDate is the YYYY-MM-DD date of t in the builder's time zone.
func (b *Builder) FeedDate(t time.Time) string {
	return t.In(b.opts.Location).Format(time.DateOnly)
}

// GenerateFeedForSlot builds today's feed for slot, replacing whatever the
// feed held before, and returns its ID. The build runs in one transaction
// under the job ledger.
func (b *Builder) GenerateFeedForSlot(ctx context.Context, slot models.Slot) (int64, error) {
	var feedID int64
	_, err := b.ledger.Run(ctx, jobs.FeedGenerationType(slot), func(ctx context.Context, log *slog.Logger) error {
		now := b.now()
		return b.db.InTx(ctx, func(q *database.Queries) error {
			feed, created, err := q.UpsertFeed(ctx, b.FeedDate(now), slot, now)
			if err != nil {
				return err
			}
			cleared, err := q.ClearFeedItems(ctx, feed.ID)
			if err != nil {
				return err
			}

			picked, err := b.pick(ctx, q, now)
			if err != nil {
				return err
			}

			for i, c := range picked {
				fi := &models.FeedItem{
					FeedID:      feed.ID,
					ItemID:      c.ID,
					Rank:        i + 1,
					ShortReason: reason(c),
				}
				if err := q.InsertFeedItem(ctx, fi); err != nil {
					return err
				}
			}

			metrics.FeedSize.WithLabelValues(string(slot)).Observe(float64(len(picked)))
			log.Info("feed generated",
				"slot", slot,
				"feed_date", feed.FeedDate,
				"feed_id", feed.ID,
				"created", created,
				"replaced", cleared,
				"items", len(picked),
			)
			feedID = feed.ID
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("generating %s feed: %w", slot, err)
	}
	return feedID, nil
}

// pick runs the diverse selection over the recent pool and tops the result up
// to MinItems from the best uncurated items of any age.
func (b *Builder) pick(ctx context.Context, q *database.Queries, now time.Time) ([]models.Candidate, error) {
	pool, err := q.CandidatePool(ctx, now.Add(-b.opts.Lookback), b.opts.PoolSize())
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	picked := Select(pool, b.opts.Limits, b.rng)
	b.mu.Unlock()

	if len(picked) >= b.opts.MinItems {
		return picked, nil
	}

	top, err := q.TopCandidates(ctx, b.opts.MinItems+len(picked))
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(picked))
	for _, c := range picked {
		seen[c.ID] = true
	}
	for _, c := range top {
		if len(picked) >= b.opts.MinItems {
			break
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		picked = append(picked, c)
	}
	return picked, nil
}

func reason(c models.Candidate) string {
	return fmt.Sprintf("[%s] Recent from %s", c.Category, c.SourceName)
}

// Today returns today's feed for slot with its entries in rank order.
// database.ErrNotFound is returned when the slot has not been generated yet.
func (b *Builder) Today(ctx context.Context, slot models.Slot) (*models.Feed, []models.FeedEntry, error) {
	feed, err := b.db.FeedByDateSlot(ctx, b.FeedDate(b.now()), slot)
	if err != nil {
		return nil, nil, err
	}
	entries, err := b.db.FeedEntries(ctx, feed.ID)
	if err != nil {
		return nil, nil, err
	}
	return feed, entries, nil
}
