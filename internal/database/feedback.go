package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thomaskoefod/trendframe/pkg/models"
)

// eventContext is the denormalized feed/source context stamped on feedback and
// item events at the time they are recorded.
type eventContext struct {
	SourceID int64
	Category string
	FeedID   sql.NullInt64
	Slot     sql.NullString
	Rank     sql.NullInt64
}

func (q *Queries) itemEventContext(ctx context.Context, itemID int64) (*eventContext, error) {
	var ec eventContext
	err := q.q.QueryRowContext(ctx,
		"SELECT i.source_id, s.category FROM items i JOIN sources s ON s.id = i.source_id WHERE i.id = ?", itemID,
	).Scan(&ec.SourceID, &ec.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying item %d context: %w", itemID, err)
	}

	// The most recent feed the item appeared in.
	err = q.q.QueryRowContext(ctx, `
		SELECT fi.feed_id, f.slot, fi.rank
		FROM feed_items fi JOIN feeds f ON f.id = fi.feed_id
		WHERE fi.item_id = ?
		ORDER BY f.generated_at DESC, fi.id DESC
		LIMIT 1`, itemID,
	).Scan(&ec.FeedID, &ec.Slot, &ec.Rank)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying item %d feed context: %w", itemID, err)
	}
	return &ec, nil
}

// InsertFeedback appends a feedback row for an item, stamped with the item's
// source and latest feed context.
func (q *Queries) InsertFeedback(ctx context.Context, itemID int64, action models.FeedbackAction, at time.Time) (*models.Feedback, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("invalid feedback action %q", action)
	}
	ec, err := q.itemEventContext(ctx, itemID)
	if err != nil {
		return nil, err
	}

	result, err := q.q.ExecContext(ctx,
		`INSERT INTO feedback (item_id, action, created_at, slot, rank, source_id, category, feed_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		itemID, action, formatTime(at), ec.Slot, ec.Rank, ec.SourceID, ec.Category, ec.FeedID,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting feedback: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting last insert id: %w", err)
	}

	fb := &models.Feedback{
		ID:        id,
		ItemID:    itemID,
		Action:    action,
		CreatedAt: at.UTC(),
		Rank:      nullIntPtr(ec.Rank),
		SourceID:  &ec.SourceID,
		Category:  &ec.Category,
		FeedID:    nullInt64Ptr(ec.FeedID),
	}
	if ec.Slot.Valid {
		slot := models.Slot(ec.Slot.String)
		fb.Slot = &slot
	}
	return fb, nil
}

var (
	curationActions   = []models.FeedbackAction{models.ActionSaved, models.ActionSkipped}
	preferenceActions = []models.FeedbackAction{models.ActionLiked, models.ActionDisliked}
)

// LatestCuration returns the latest saved/skipped action per item.
func (q *Queries) LatestCuration(ctx context.Context, itemIDs []int64) (map[int64]models.FeedbackAction, error) {
	return q.latestActions(ctx, curationActions, itemIDs)
}

// LatestPreference returns the latest liked/disliked action per item.
func (q *Queries) LatestPreference(ctx context.Context, itemIDs []int64) (map[int64]models.FeedbackAction, error) {
	return q.latestActions(ctx, preferenceActions, itemIDs)
}

func (q *Queries) latestActions(ctx context.Context, family []models.FeedbackAction, itemIDs []int64) (map[int64]models.FeedbackAction, error) {
	out := make(map[int64]models.FeedbackAction, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(family)+len(itemIDs))
	for _, a := range family {
		args = append(args, a)
	}
	for _, id := range itemIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT f.item_id, f.action
		FROM feedback f
		JOIN (
			SELECT item_id, MAX(id) AS max_id FROM feedback
			WHERE action IN (%s) GROUP BY item_id
		) latest ON latest.max_id = f.id
		WHERE f.item_id IN (%s)`, placeholders(len(family)), placeholders(len(itemIDs)))

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying latest feedback: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int64
			action models.FeedbackAction
		)
		if err := rows.Scan(&id, &action); err != nil {
			return nil, fmt.Errorf("scanning latest feedback: %w", err)
		}
		out[id] = action
	}
	return out, rows.Err()
}

type Bookmark struct {
	models.Candidate
	SavedAt time.Time `json:"saved_at"`
}

// SavedBookmarks pages through items whose latest curation action is saved,
// most recently saved first. It also returns the total number of such items.
func (q *Queries) SavedBookmarks(ctx context.Context, limit, offset int) ([]Bookmark, int, error) {
	const latestSaved = `
		FROM feedback f
		JOIN (
			SELECT item_id, MAX(id) AS max_id FROM feedback
			WHERE action IN ('saved', 'skipped') GROUP BY item_id
		) latest ON latest.max_id = f.id
		JOIN items i ON i.id = f.item_id
		JOIN sources s ON s.id = i.source_id
		WHERE f.action = 'saved'`

	var total int
	if err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) "+latestSaved).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting bookmarks: %w", err)
	}

	rows, err := q.q.QueryContext(ctx,
		"SELECT f.created_at, "+candidateColumns+latestSaved+" ORDER BY f.created_at DESC, i.id DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("querying bookmarks: %w", err)
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		var savedAt string
		c, err := scanCandidate(prefixScanner{rows, []any{&savedAt}})
		if err != nil {
			return nil, 0, fmt.Errorf("scanning bookmark: %w", err)
		}
		t, err := parseTime(savedAt)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, Bookmark{Candidate: c, SavedAt: t})
	}
	return out, total, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
