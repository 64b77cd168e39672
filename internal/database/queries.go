package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thomaskoefod/trendframe/pkg/models"
)

const sourceColumns = "id, type, name, url, category, enabled, weight, last_fetched_at"

func scanSource(sc interface{ Scan(...any) error }) (models.Source, error) {
	var (
		src         models.Source
		lastFetched sql.NullString
	)
	if err := sc.Scan(&src.ID, &src.Type, &src.Name, &src.URL, &src.Category, &src.Enabled, &src.Weight, &lastFetched); err != nil {
		return src, err
	}
	t, err := parseNullTime(lastFetched)
	if err != nil {
		return src, err
	}
	src.LastFetchedAt = t
	return src, nil
}

func (q *Queries) querySources(ctx context.Context, query string, args ...any) ([]models.Source, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources = append(sources, src)
	}

	return sources, rows.Err()
}

// Sources retrieves all sources
func (q *Queries) Sources(ctx context.Context) ([]models.Source, error) {
	sources, err := q.querySources(ctx, "SELECT "+sourceColumns+" FROM sources ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	return sources, nil
}

// EnabledSources retrieves only enabled sources, in id order
func (q *Queries) EnabledSources(ctx context.Context) ([]models.Source, error) {
	sources, err := q.querySources(ctx, "SELECT "+sourceColumns+" FROM sources WHERE enabled = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying enabled sources: %w", err)
	}
	return sources, nil
}

// UpsertSource inserts src or, when a source with the same URL exists, brings its
// type, name, category, weight and enabled flag in line with src. src.ID is set
// either way.
func (q *Queries) UpsertSource(ctx context.Context, src *models.Source) (created, updated bool, err error) {
	existing, err := scanSource(q.q.QueryRowContext(ctx, "SELECT "+sourceColumns+" FROM sources WHERE url = ?", src.URL))
	if errors.Is(err, sql.ErrNoRows) {
		result, err := q.q.ExecContext(ctx,
			"INSERT INTO sources (type, name, url, category, enabled, weight) VALUES (?, ?, ?, ?, ?, ?)",
			src.Type, src.Name, src.URL, src.Category, src.Enabled, src.Weight,
		)
		if err != nil {
			return false, false, fmt.Errorf("inserting source: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return false, false, fmt.Errorf("getting last insert id: %w", err)
		}
		src.ID = id
		return true, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("querying source %s: %w", src.URL, err)
	}

	src.ID = existing.ID
	if existing.Type == src.Type && existing.Name == src.Name && existing.Category == src.Category &&
		existing.Weight == src.Weight && existing.Enabled == src.Enabled {
		return false, false, nil
	}

	_, err = q.q.ExecContext(ctx,
		"UPDATE sources SET type = ?, name = ?, category = ?, enabled = ?, weight = ? WHERE id = ?",
		src.Type, src.Name, src.Category, src.Enabled, src.Weight, src.ID,
	)
	if err != nil {
		return false, false, fmt.Errorf("updating source: %w", err)
	}
	return false, true, nil
}

// TouchSource stamps a source's last_fetched_at
func (q *Queries) TouchSource(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := q.q.ExecContext(ctx, "UPDATE sources SET last_fetched_at = ? WHERE id = ?", formatTime(at), sourceID)
	if err != nil {
		return fmt.Errorf("touching source %d: %w", sourceID, err)
	}
	return nil
}

// CanonicalURLExists reports whether an item with the canonical URL is stored
func (q *Queries) CanonicalURLExists(ctx context.Context, canonicalURL string) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE canonical_url = ?", canonicalURL).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying canonical url: %w", err)
	}
	return n > 0, nil
}

// InsertItem inserts a new item
func (q *Queries) InsertItem(ctx context.Context, item *models.Item) error {
	result, err := q.q.ExecContext(ctx,
		`INSERT INTO items (source_id, canonical_url, url, title, translated_title, summary, published_at, fetched_at, language, dedupe_key, score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.SourceID, item.CanonicalURL, item.URL, item.Title, item.TranslatedTitle, item.Summary,
		formatTimePtr(item.PublishedAt), formatTime(item.FetchedAt), item.Language, item.DedupeKey, item.Score,
	)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}

	item.ID = id
	return nil
}

// RecentTitles returns up to limit item titles, most recently ingested first
func (q *Queries) RecentTitles(ctx context.Context, limit int) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT title FROM items ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent titles: %w", err)
	}
	defer rows.Close()

	titles := make([]string, 0, limit)
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scanning title: %w", err)
		}
		titles = append(titles, title)
	}

	return titles, rows.Err()
}

const candidateColumns = `i.id, i.source_id, i.canonical_url, i.url, i.title, i.translated_title, i.summary,
	i.published_at, i.fetched_at, i.language, i.dedupe_key, i.score, s.name, s.category`

// notCurated excludes items that ever received saved or skipped feedback.
const notCurated = `NOT EXISTS (
	SELECT 1 FROM feedback f WHERE f.item_id = i.id AND f.action IN ('saved', 'skipped'))`

func scanCandidate(sc interface{ Scan(...any) error }) (models.Candidate, error) {
	var (
		c           models.Candidate
		translated  sql.NullString
		publishedAt sql.NullString
		fetchedAt   string
	)
	err := sc.Scan(&c.ID, &c.SourceID, &c.CanonicalURL, &c.URL, &c.Title, &translated, &c.Summary,
		&publishedAt, &fetchedAt, &c.Language, &c.DedupeKey, &c.Score, &c.SourceName, &c.Category)
	if err != nil {
		return c, err
	}
	c.TranslatedTitle = nullStringPtr(translated)
	if c.PublishedAt, err = parseNullTime(publishedAt); err != nil {
		return c, err
	}
	if c.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return c, err
	}
	return c, nil
}

func (q *Queries) queryCandidates(ctx context.Context, query string, args ...any) ([]models.Candidate, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CandidatePool returns uncurated items fetched at or after since, best score
// first with newer ids winning ties, capped at limit.
func (q *Queries) CandidatePool(ctx context.Context, since time.Time, limit int) ([]models.Candidate, error) {
	out, err := q.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM items i JOIN sources s ON s.id = i.source_id
		WHERE i.fetched_at >= ? AND `+notCurated+`
		ORDER BY i.score DESC, i.id DESC
		LIMIT ?`, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("querying candidate pool: %w", err)
	}
	return out, nil
}

// TopCandidates returns the highest-scored uncurated items regardless of age.
func (q *Queries) TopCandidates(ctx context.Context, limit int) ([]models.Candidate, error) {
	out, err := q.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM items i JOIN sources s ON s.id = i.source_id
		WHERE `+notCurated+`
		ORDER BY i.score DESC, i.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top candidates: %w", err)
	}
	return out, nil
}

// ItemByID retrieves a single item with its source attributes
func (q *Queries) ItemByID(ctx context.Context, id int64) (*models.Candidate, error) {
	c, err := scanCandidate(q.q.QueryRowContext(ctx, `
		SELECT `+candidateColumns+`
		FROM items i JOIN sources s ON s.id = i.source_id
		WHERE i.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying item %d: %w", id, err)
	}
	return &c, nil
}
