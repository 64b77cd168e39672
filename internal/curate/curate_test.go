package curate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/internal/jobs"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

func cand(id int64, category, domain string, score float64) models.Candidate {
	return models.Candidate{
		Item: models.Item{
			ID:           id,
			CanonicalURL: fmt.Sprintf("https://%s/%d", domain, id),
			Score:        score,
		},
		Category: category,
	}
}

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func ids(cs []models.Candidate) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func countBy(cs []models.Candidate) map[string]int {
	out := map[string]int{}
	for _, c := range cs {
		out[c.Category]++
	}
	return out
}

func TestSelect_TenItemsThreeCategories(t *testing.T) {
	var pool []models.Candidate
	categories := []string{"ai", "dev", "biz"}
	for i := range 10 {
		id := int64(10 - i)
		pool = append(pool, cand(id, categories[i%3], fmt.Sprintf("d%d.example", id), 2-float64(i)*0.1))
	}
	lim := Limits{TargetPerCategory: 1, MaxPerCategory: 2, MaxTotal: 5}
	require.Equal(t, 2, lim.PerCategoryCap())
	require.Equal(t, 5, lim.TotalCap())

	for seed := range uint64(20) {
		picked := Select(pool, lim, rand.New(rand.NewPCG(seed, seed)))

		assert.Len(t, picked, 5)
		// Pass 1 serves one item per category, in best-score order.
		assert.Equal(t, []string{"ai", "dev", "biz"}, []string{picked[0].Category, picked[1].Category, picked[2].Category})
		for _, n := range countBy(picked) {
			assert.LessOrEqual(t, n, 2)
		}
		assert.Len(t, uniqueIDs(picked), 5)
	}
}

func uniqueIDs(cs []models.Candidate) map[int64]bool {
	out := map[int64]bool{}
	for _, c := range cs {
		out[c.ID] = true
	}
	return out
}

func TestSelect_PrefersUnusedDomains(t *testing.T) {
	pool := []models.Candidate{
		cand(1, "a", "shared.example", 0.9),
		cand(2, "b", "shared.example", 0.8),
		cand(3, "b", "other.example", 0.7),
	}
	picked := Select(pool, Limits{TargetPerCategory: 1, MaxPerCategory: 1, MaxTotal: 2}, seeded())
	assert.Equal(t, []int64{1, 3}, ids(picked))
}

func TestSelect_DegradesToDuplicateDomain(t *testing.T) {
	pool := []models.Candidate{
		cand(1, "a", "shared.example", 0.9),
		cand(2, "b", "shared.example", 0.8),
	}
	picked := Select(pool, Limits{TargetPerCategory: 1, MaxPerCategory: 1, MaxTotal: 5}, seeded())
	assert.Equal(t, []int64{1, 2}, ids(picked), "category b is still served")
}

func TestSelect_DeferredItemsComeBackInSkipOrder(t *testing.T) {
	pool := []models.Candidate{
		cand(1, "a", "x.example", 0.9),
		cand(2, "a", "x.example", 0.8),
		cand(3, "a", "x.example", 0.7),
		cand(4, "a", "x.example", 0.6),
		cand(5, "a", "y.example", 0.5),
	}
	lim := Limits{TargetPerCategory: 5, MaxPerCategory: 5, MaxTotal: 5}

	for seed := range uint64(10) {
		// Replay the single in-bucket shuffle Select does with the same seed.
		order := slices.Clone(pool)
		rand.New(rand.NewPCG(seed, seed)).Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		// The first pick, then the only unused domain, then every skipped
		// x.example item in the order it was passed over.
		want := []int64{order[0].ID}
		if order[0].ID != 5 {
			want = append(want, 5)
		}
		for _, c := range order[1:] {
			if c.ID != 5 {
				want = append(want, c.ID)
			}
		}

		picked := Select(pool, lim, rand.New(rand.NewPCG(seed, seed)))
		assert.Equal(t, want, ids(picked), "seed %d", seed)
	}
}

func TestSelect_CategoryOrderByBestScoreThenName(t *testing.T) {
	pool := []models.Candidate{
		cand(1, "zeta", "z.example", 0.9),
		cand(2, "beta", "b.example", 0.5),
		cand(3, "alpha", "a.example", 0.5),
	}
	picked := Select(pool, Limits{TargetPerCategory: 1, MaxPerCategory: 1, MaxTotal: 3}, seeded())
	assert.Equal(t, []string{"zeta", "alpha", "beta"}, []string{picked[0].Category, picked[1].Category, picked[2].Category})
}

func TestSelect_TotalCapStopsPassOne(t *testing.T) {
	var pool []models.Candidate
	for i := range 6 {
		pool = append(pool, cand(int64(i+1), fmt.Sprintf("c%d", i), fmt.Sprintf("d%d.example", i), 1-float64(i)*0.1))
	}
	picked := Select(pool, Limits{TargetPerCategory: 2, MaxPerCategory: 0, MaxTotal: 0}, seeded())
	assert.Len(t, picked, 2, "total cap is max(perCategoryCap, maxTotal) = 2")
}

func TestSelect_SeedDeterminism(t *testing.T) {
	var pool []models.Candidate
	for i := range 30 {
		pool = append(pool, cand(int64(i+1), fmt.Sprintf("c%d", i%4), fmt.Sprintf("d%d.example", i), 1-float64(i)*0.01))
	}
	lim := Limits{TargetPerCategory: 2, MaxPerCategory: 4, MaxTotal: 10}

	a := Select(pool, lim, rand.New(rand.NewPCG(7, 7)))
	b := Select(pool, lim, rand.New(rand.NewPCG(7, 7)))
	assert.Equal(t, ids(a), ids(b))
	assert.Len(t, a, 10)
}

func TestSelect_EmptyPool(t *testing.T) {
	assert.Empty(t, Select(nil, Limits{TargetPerCategory: 3, MaxPerCategory: 5, MaxTotal: 30}, nil))
}

func TestLimits_PoolSize(t *testing.T) {
	assert.Equal(t, 300, Limits{MaxTotal: 5}.PoolSize())
	assert.Equal(t, 600, Limits{MaxTotal: 30}.PoolSize())
}

// Builder tests run against a real SQLite file.

var buildNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t       *testing.T
	db      *database.DB
	sources map[string]models.Source
	nextURL int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "curate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &fixture{t: t, db: db, sources: map[string]models.Source{}}
}

func (f *fixture) source(category string) models.Source {
	if src, ok := f.sources[category]; ok {
		return src
	}
	src := models.Source{Type: models.SourceRSS, Name: category + " blog", URL: "https://" + category + ".example/feed", Category: category, Enabled: true, Weight: 1}
	_, _, err := f.db.UpsertSource(context.Background(), &src)
	require.NoError(f.t, err)
	f.sources[category] = src
	return src
}

// item stores an item fetched age before buildNow.
func (f *fixture) item(category string, score float64, age time.Duration) models.Item {
	f.nextURL++
	src := f.source(category)
	it := models.Item{
		SourceID:     src.ID,
		CanonicalURL: fmt.Sprintf("https://site%d.example/story", f.nextURL),
		URL:          fmt.Sprintf("https://site%d.example/story", f.nextURL),
		Title:        fmt.Sprintf("story %d", f.nextURL),
		FetchedAt:    buildNow.Add(-age),
		Language:     "en",
		DedupeKey:    fmt.Sprintf("key%d", f.nextURL),
		Score:        score,
	}
	require.NoError(f.t, f.db.InsertItem(context.Background(), &it))
	return it
}

func (f *fixture) builder(opts Options) *Builder {
	if opts.Lookback == 0 {
		opts.Lookback = 48 * time.Hour
	}
	b := NewBuilder(f.db, jobs.NewLedger(f.db, time.Hour, nil), opts, seeded(), nil)
	b.now = func() time.Time { return buildNow }
	return b
}

func defaultOpts() Options {
	return Options{
		Limits:   Limits{TargetPerCategory: 3, MaxPerCategory: 5, MaxTotal: 30},
		MinItems: 3,
	}
}

func TestGenerateFeedForSlot_MinimumFill(t *testing.T) {
	f := newFixture(t)
	fresh1 := f.item("ai", 1.0, time.Hour)
	fresh2 := f.item("dev", 0.9, time.Hour)
	oldBest := f.item("ai", 0.8, 72*time.Hour)
	f.item("dev", 0.1, 96*time.Hour)

	ctx := context.Background()
	b := f.builder(defaultOpts())
	feedID, err := b.GenerateFeedForSlot(ctx, models.SlotAM)
	require.NoError(t, err)

	entries, err := f.db.FeedEntries(ctx, feedID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	got := map[int64]bool{}
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
		got[e.ItemID] = true
	}
	assert.True(t, got[fresh1.ID])
	assert.True(t, got[fresh2.ID])
	assert.True(t, got[oldBest.ID], "backfill takes the best item outside the lookback window")
	assert.Equal(t, oldBest.ID, entries[2].ItemID)
}

func TestGenerateFeedForSlot_MinimumFillWithTinyTable(t *testing.T) {
	f := newFixture(t)
	f.item("ai", 1.0, time.Hour)
	f.item("ai", 0.5, 100*time.Hour)

	feedID, err := f.builder(defaultOpts()).GenerateFeedForSlot(context.Background(), models.SlotPM)
	require.NoError(t, err)

	entries, err := f.db.FeedEntries(context.Background(), feedID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGenerateFeedForSlot_EmptyTable(t *testing.T) {
	f := newFixture(t)
	feedID, err := f.builder(defaultOpts()).GenerateFeedForSlot(context.Background(), models.SlotAM)
	require.NoError(t, err)

	entries, err := f.db.FeedEntries(context.Background(), feedID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateFeedForSlot_RegenerationReplaces(t *testing.T) {
	f := newFixture(t)
	for i := range 12 {
		f.item([]string{"ai", "dev", "biz"}[i%3], 1-float64(i)*0.05, time.Duration(i)*time.Hour)
	}
	ctx := context.Background()
	b := f.builder(defaultOpts())

	first, err := b.GenerateFeedForSlot(ctx, models.SlotAM)
	require.NoError(t, err)
	second, err := b.GenerateFeedForSlot(ctx, models.SlotAM)
	require.NoError(t, err)
	assert.Equal(t, first, second, "one feed per (date, slot)")

	entries, err := f.db.FeedEntries(ctx, second)
	require.NoError(t, err)
	require.Len(t, entries, 12)

	seen := map[int64]bool{}
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank, "ranks are dense from 1")
		assert.False(t, seen[e.ItemID], "no duplicate items")
		seen[e.ItemID] = true
		assert.Equal(t, fmt.Sprintf("[%s] Recent from %s blog", e.Category, e.Category), e.ShortReason)
	}

	pm, err := b.GenerateFeedForSlot(ctx, models.SlotPM)
	require.NoError(t, err)
	assert.NotEqual(t, first, pm)
}

func TestGenerateFeedForSlot_CuratedItemsNeverSelected(t *testing.T) {
	f := newFixture(t)
	saved := f.item("ai", 1.0, time.Hour)
	skipped := f.item("ai", 0.9, time.Hour)
	liked := f.item("dev", 0.8, time.Hour)
	plain := f.item("dev", 0.2, time.Hour)

	ctx := context.Background()
	_, err := f.db.InsertFeedback(ctx, saved.ID, models.ActionSaved, buildNow)
	require.NoError(t, err)
	_, err = f.db.InsertFeedback(ctx, skipped.ID, models.ActionSkipped, buildNow)
	require.NoError(t, err)
	_, err = f.db.InsertFeedback(ctx, liked.ID, models.ActionLiked, buildNow)
	require.NoError(t, err)

	feedID, err := f.builder(defaultOpts()).GenerateFeedForSlot(ctx, models.SlotAM)
	require.NoError(t, err)

	entries, err := f.db.FeedEntries(ctx, feedID)
	require.NoError(t, err)
	got := map[int64]bool{}
	for _, e := range entries {
		got[e.ItemID] = true
	}
	assert.Equal(t, map[int64]bool{liked.ID: true, plain.ID: true}, got,
		"saved and skipped items are excluded even when the minimum is not met")
}

func TestGenerateFeedForSlot_RespectsCaps(t *testing.T) {
	f := newFixture(t)
	for i := range 20 {
		f.item([]string{"ai", "dev"}[i%2], 1-float64(i)*0.01, time.Hour)
	}
	opts := Options{Limits: Limits{TargetPerCategory: 1, MaxPerCategory: 3, MaxTotal: 4}, MinItems: 1}

	feedID, err := f.builder(opts).GenerateFeedForSlot(context.Background(), models.SlotAM)
	require.NoError(t, err)

	entries, err := f.db.FeedEntries(context.Background(), feedID)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestGenerateFeedForSlot_UsesAppTimezoneDateAndRecordsJob(t *testing.T) {
	f := newFixture(t)
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	opts := defaultOpts()
	opts.Location = seoul
	b := f.builder(opts)
	b.now = func() time.Time { return time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	_, err = b.GenerateFeedForSlot(ctx, models.SlotAM)
	require.NoError(t, err)

	feed, err := f.db.FeedByDateSlot(ctx, "2026-03-02", models.SlotAM)
	require.NoError(t, err)
	assert.Equal(t, models.SlotAM, feed.Slot)

	js, err := f.db.RecentJobs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "feed_generation_am", js[0].JobType)
	assert.Equal(t, models.JobSuccess, js[0].Status)

	today, entries, err := b.Today(ctx, models.SlotAM)
	require.NoError(t, err)
	assert.Equal(t, feed.ID, today.ID)
	assert.Empty(t, entries)

	_, _, err = b.Today(ctx, models.SlotPM)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
