package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/internal/feed"
	"github.com/thomaskoefod/trendframe/internal/jobs"
	"github.com/thomaskoefod/trendframe/internal/translate"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// byURL serves canned candidates keyed by source URL.
type byURL map[string]struct {
	out []feed.Candidate
	err error
}

func (f byURL) Fetch(_ context.Context, src models.Source) ([]feed.Candidate, error) {
	r := f[src.URL]
	return r.out, r.err
}

type translatorFunc func(string) translate.Result

func (f translatorFunc) Translate(_ context.Context, text string) translate.Result { return f(text) }

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addSource(t *testing.T, db *database.DB, typ models.SourceType, url string, weight float64) models.Source {
	t.Helper()
	src := models.Source{Type: typ, Name: url, URL: url, Category: "tech", Enabled: true, Weight: weight}
	_, _, err := db.UpsertSource(context.Background(), &src)
	require.NoError(t, err)
	return src
}

func newPipeline(db *database.DB, f feed.Fetcher, tr translate.Translator, opts Options) *Pipeline {
	p := New(db, jobs.NewLedger(db, time.Hour, nil), f, tr, opts, nil)
	p.now = func() time.Time { return testNow }
	return p
}

func lastJob(t *testing.T, db *database.DB) models.Job {
	t.Helper()
	js, err := db.RecentJobs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, js, 1)
	return js[0]
}

func TestRunIngestion_SameStoryViaHNAndRSSInsertsOnce(t *testing.T) {
	db := newTestDB(t)
	addSource(t, db, models.SourceHN, "hn://algolia", 1.2)
	addSource(t, db, models.SourceRSS, "https://blog.example/feed", 1.0)

	published := testNow.Add(-2 * time.Hour)
	fetcher := byURL{
		"hn://algolia": {out: []feed.Candidate{
			{Title: "Postgres 18 released", URL: "https://postgresql.org/about/news/18?utm_source=hn", PublishedAt: &published},
		}},
		"https://blog.example/feed": {out: []feed.Candidate{
			{Title: "PostgreSQL 18 is out now", URL: "https://postgresql.org/about/news/18#top"},
		}},
	}

	res, err := newPipeline(db, fetcher, nil, Options{}).RunIngestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{Scanned: 2, Inserted: 1}, res)

	top, err := db.TopCandidates(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "https://postgresql.org/about/news/18", top[0].CanonicalURL)
	assert.Equal(t, "https://postgresql.org/about/news/18?utm_source=hn", top[0].URL)
	assert.Equal(t, "Postgres 18 released", top[0].Title)

	assert.Equal(t, models.JobSuccess, lastJob(t, db).Status)
	assert.Equal(t, jobs.TypeIngestion, lastJob(t, db).JobType)
}

func TestRunIngestion_NearDuplicateTitles(t *testing.T) {
	db := newTestDB(t)
	addSource(t, db, models.SourceRSS, "https://a.example/feed", 1.0)

	fetcher := byURL{"https://a.example/feed": {out: []feed.Candidate{
		{Title: "Kubernetes 1.33 brings sidecar containers to GA", URL: "https://a.example/1"},
		{Title: "Kubernetes 1.33 brings sidecar containers to GA!", URL: "https://b.example/2"},
		{Title: "Completely different headline", URL: "https://c.example/3"},
	}}}

	res, err := newPipeline(db, fetcher, nil, Options{}).RunIngestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 2, res.Inserted)
}

func TestRunIngestion_ItemFields(t *testing.T) {
	db := newTestDB(t)
	src := addSource(t, db, models.SourceRSS, "https://a.example/feed", 1.0)

	fetcher := byURL{"https://a.example/feed": {out: []feed.Candidate{
		{Title: "Go 1.26 released", URL: "https://go.dev/blog/go1.26", Summary: "**news**"},
		{Title: "서울 날씨 맑음", URL: "https://news.example.kr/1"},
	}}}
	var calls []string
	tr := translatorFunc(func(s string) translate.Result {
		calls = append(calls, s)
		return translate.Result{Text: "고 1.26 출시", OK: true}
	})

	_, err := newPipeline(db, fetcher, tr, Options{}).RunIngestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Go 1.26 released"}, calls, "Korean titles are not translated")

	top, err := db.TopCandidates(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, top, 2)

	byLang := map[string]models.Candidate{}
	for _, c := range top {
		byLang[c.Language] = c
	}
	en := byLang["en"]
	require.NotNil(t, en.TranslatedTitle)
	assert.Equal(t, "고 1.26 출시", *en.TranslatedTitle)
	assert.Equal(t, "**news**", en.Summary)
	assert.Equal(t, 0.47, en.Score, "undated: 0.2*0.7 + 1.0*0.3")
	assert.Len(t, en.DedupeKey, 64)
	assert.Equal(t, testNow, en.FetchedAt)
	assert.Nil(t, byLang["ko"].TranslatedTitle)

	sources, err := db.Sources(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sources[0].LastFetchedAt)
	assert.Equal(t, src.ID, sources[0].ID)
}

func TestRunIngestion_TranslationFailureIsRecovered(t *testing.T) {
	db := newTestDB(t)
	addSource(t, db, models.SourceRSS, "https://a.example/feed", 1.0)
	fetcher := byURL{"https://a.example/feed": {out: []feed.Candidate{{Title: "Hello", URL: "https://a.example/1"}}}}
	failing := translatorFunc(func(string) translate.Result { return translate.Result{} })

	res, err := newPipeline(db, fetcher, failing, Options{}).RunIngestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	top, err := db.TopCandidates(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, top[0].TranslatedTitle)
}

func TestRunIngestion_TranslationDoesNotBlockOtherWriters(t *testing.T) {
	db := newTestDB(t)
	addSource(t, db, models.SourceRSS, "https://a.example/feed", 1.0)
	fetcher := byURL{"https://a.example/feed": {out: []feed.Candidate{
		{Title: "Slow to translate", URL: "https://a.example/1"},
		{Title: "Also slow", URL: "https://a.example/2"},
	}}}

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	blocking := translatorFunc(func(string) translate.Result {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return translate.Result{Text: "번역", OK: true}
	})

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := newPipeline(db, fetcher, blocking, Options{}).RunIngestion(ctx)
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("translator was never called")
	}

	// A feed build opening its job row while translation is pending.
	begin := time.Now()
	job, err := db.InsertJob(ctx, jobs.FeedGenerationType(models.SlotAM), testNow)
	require.NoError(t, err)
	assert.Less(t, time.Since(begin), time.Second)
	require.NoError(t, db.FinishJob(ctx, job.ID, models.JobSuccess, nil, testNow))

	close(release)
	require.NoError(t, <-done)

	top, err := db.TopCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	for _, c := range top {
		require.NotNil(t, c.TranslatedTitle)
		assert.Equal(t, "번역", *c.TranslatedTitle)
	}
}

func TestRunIngestion_KnownItemsAreNotTranslated(t *testing.T) {
	db := newTestDB(t)
	addSource(t, db, models.SourceRSS, "https://a.example/feed", 1.0)
	fetcher := byURL{"https://a.example/feed": {out: []feed.Candidate{
		{Title: "Already here", URL: "https://a.example/1"},
		{Title: "Already here", URL: "https://a.example/1?utm_source=x"},
	}}}
	var calls int
	tr := translatorFunc(func(string) translate.Result {
		calls++
		return translate.Result{Text: "이미", OK: true}
	})
	p := newPipeline(db, fetcher, tr, Options{})

	_, err := p.RunIngestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "same canonical URL translated once per run")

	_, err = p.RunIngestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "stored items are not translated again")
}

func TestRunIngestion_FetchFailureIsolatedPerSource(t *testing.T) {
	db := newTestDB(t)
	addSource(t, db, models.SourceRSS, "https://down.example/feed", 1.0)
	addSource(t, db, models.SourceRSS, "https://up.example/feed", 1.0)

	fetcher := byURL{
		"https://down.example/feed": {err: errors.New("connection refused")},
		"https://up.example/feed":   {out: []feed.Candidate{{Title: "Up", URL: "https://up.example/1"}}},
	}

	res, err := newPipeline(db, fetcher, nil, Options{}).RunIngestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{Scanned: 1, Inserted: 1, FailedSources: 1}, res)

	sources, err := db.Sources(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sources[0].LastFetchedAt, "failed source is not stamped")
	assert.NotNil(t, sources[1].LastFetchedAt)
}

func TestRunIngestion_AbortOnSourceError(t *testing.T) {
	db := newTestDB(t)
	addSource(t, db, models.SourceRSS, "https://down.example/feed", 1.0)
	addSource(t, db, models.SourceRSS, "https://up.example/feed", 1.0)

	fetchErr := errors.New("connection refused")
	fetcher := byURL{
		"https://down.example/feed": {err: fetchErr},
		"https://up.example/feed":   {out: []feed.Candidate{{Title: "Up", URL: "https://up.example/1"}}},
	}

	res, err := newPipeline(db, fetcher, nil, Options{AbortOnSourceError: true}).RunIngestion(context.Background())
	require.ErrorIs(t, err, fetchErr)
	assert.Nil(t, res)

	top, err := db.TopCandidates(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, top)
	assert.Equal(t, models.JobFailed, lastJob(t, db).Status)
}

func TestRunIngestion_PersistenceFailureRollsBack(t *testing.T) {
	db := newTestDB(t)
	addSource(t, db, models.SourceRSS, "https://a.example/feed", 1.0)
	_, err := db.Exec(`CREATE TRIGGER poison BEFORE INSERT ON items WHEN NEW.title = 'poison'
		BEGIN SELECT RAISE(ABORT, 'poisoned item'); END`)
	require.NoError(t, err)

	fetcher := byURL{"https://a.example/feed": {out: []feed.Candidate{
		{Title: "Fine story", URL: "https://a.example/1"},
		{Title: "poison", URL: "https://a.example/2"},
	}}}

	_, err = newPipeline(db, fetcher, nil, Options{}).RunIngestion(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poisoned item")

	top, err := db.TopCandidates(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, top, "the earlier insert is rolled back")

	sources, err := db.Sources(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sources[0].LastFetchedAt)

	job := lastJob(t, db)
	assert.Equal(t, models.JobFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "poisoned item")
}

func TestRunIngestion_RerunInsertsNothing(t *testing.T) {
	db := newTestDB(t)
	addSource(t, db, models.SourceRSS, "https://a.example/feed", 1.0)
	fetcher := byURL{"https://a.example/feed": {out: []feed.Candidate{
		{Title: "One", URL: "https://a.example/1"},
		{Title: "Two different", URL: "https://a.example/2"},
	}}}
	p := newPipeline(db, fetcher, nil, Options{})

	first, err := p.RunIngestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)

	second, err := p.RunIngestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{Scanned: 2, Inserted: 0}, second)
}

func TestRunIngestion_DisabledSourcesSkipped(t *testing.T) {
	db := newTestDB(t)
	src := models.Source{Type: models.SourceRSS, Name: "off", URL: "https://off.example/feed", Category: "x", Enabled: false, Weight: 1}
	_, _, err := db.UpsertSource(context.Background(), &src)
	require.NoError(t, err)

	fetcher := byURL{"https://off.example/feed": {out: []feed.Candidate{{Title: "Hidden", URL: "https://off.example/1"}}}}
	res, err := newPipeline(db, fetcher, nil, Options{}).RunIngestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{}, res)
}

func TestPushRecent(t *testing.T) {
	h := pushRecent([]string{"b", "c"}, "a", 2)
	assert.Equal(t, []string{"a", "b"}, h)
}
