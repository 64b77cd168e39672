package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thomaskoefod/trendframe/pkg/models"
)

func scanFeed(sc interface{ Scan(...any) error }) (*models.Feed, error) {
	var (
		feed        models.Feed
		generatedAt string
	)
	if err := sc.Scan(&feed.ID, &feed.FeedDate, &feed.Slot, &generatedAt); err != nil {
		return nil, err
	}
	t, err := parseTime(generatedAt)
	if err != nil {
		return nil, err
	}
	feed.GeneratedAt = t
	return &feed, nil
}

// FeedByDateSlot looks up the feed for a date (YYYY-MM-DD) and slot
func (q *Queries) FeedByDateSlot(ctx context.Context, feedDate string, slot models.Slot) (*models.Feed, error) {
	feed, err := scanFeed(q.q.QueryRowContext(ctx,
		"SELECT id, feed_date, slot, generated_at FROM feeds WHERE feed_date = ? AND slot = ?", feedDate, slot))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %s/%s: %w", feedDate, slot, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying feed %s/%s: %w", feedDate, slot, err)
	}
	return feed, nil
}

// UpsertFeed returns the feed for (date, slot) with generated_at set to at,
// creating it on first use.
func (q *Queries) UpsertFeed(ctx context.Context, feedDate string, slot models.Slot, at time.Time) (*models.Feed, bool, error) {
	feed, err := q.FeedByDateSlot(ctx, feedDate, slot)
	switch {
	case err == nil:
		if _, err := q.q.ExecContext(ctx, "UPDATE feeds SET generated_at = ? WHERE id = ?", formatTime(at), feed.ID); err != nil {
			return nil, false, fmt.Errorf("updating feed %d: %w", feed.ID, err)
		}
		feed.GeneratedAt = at.UTC()
		return feed, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	result, err := q.q.ExecContext(ctx,
		"INSERT INTO feeds (feed_date, slot, generated_at) VALUES (?, ?, ?)", feedDate, slot, formatTime(at))
	if err != nil {
		return nil, false, fmt.Errorf("inserting feed: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("getting last insert id: %w", err)
	}
	return &models.Feed{ID: id, FeedDate: feedDate, Slot: slot, GeneratedAt: at.UTC()}, true, nil
}

// ClearFeedItems deletes every ranked entry of a feed
func (q *Queries) ClearFeedItems(ctx context.Context, feedID int64) (int64, error) {
	result, err := q.q.ExecContext(ctx, "DELETE FROM feed_items WHERE feed_id = ?", feedID)
	if err != nil {
		return 0, fmt.Errorf("clearing feed %d: %w", feedID, err)
	}
	return result.RowsAffected()
}

// InsertFeedItem inserts one ranked entry
func (q *Queries) InsertFeedItem(ctx context.Context, fi *models.FeedItem) error {
	result, err := q.q.ExecContext(ctx,
		"INSERT INTO feed_items (feed_id, item_id, rank, short_reason) VALUES (?, ?, ?, ?)",
		fi.FeedID, fi.ItemID, fi.Rank, fi.ShortReason,
	)
	if err != nil {
		return fmt.Errorf("inserting feed item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	fi.ID = id
	return nil
}

// FeedEntries returns a feed's items in rank order
func (q *Queries) FeedEntries(ctx context.Context, feedID int64) ([]models.FeedEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT fi.id, fi.feed_id, fi.item_id, fi.rank, fi.short_reason, `+candidateColumns+`
		FROM feed_items fi
		JOIN items i ON i.id = fi.item_id
		JOIN sources s ON s.id = i.source_id
		WHERE fi.feed_id = ?
		ORDER BY fi.rank ASC`, feedID)
	if err != nil {
		return nil, fmt.Errorf("querying feed entries: %w", err)
	}
	defer rows.Close()

	var entries []models.FeedEntry
	for rows.Next() {
		var e models.FeedEntry
		var fi models.FeedItem
		c, err := scanCandidate(prefixScanner{rows, []any{&fi.ID, &fi.FeedID, &fi.ItemID, &fi.Rank, &fi.ShortReason}})
		if err != nil {
			return nil, fmt.Errorf("scanning feed entry: %w", err)
		}
		e.FeedItem = fi
		e.Candidate = c
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// prefixScanner lets scanCandidate read rows that carry extra leading columns.
type prefixScanner struct {
	rows   *sql.Rows
	prefix []any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append(p.prefix, dest...)...)
}
