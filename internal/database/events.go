package database

import (
	"context"
	"fmt"
	"time"

	"github.com/thomaskoefod/trendframe/pkg/models"
)

// InsertEvent appends an analytics event for an item with its denormalized context.
func (q *Queries) InsertEvent(ctx context.Context, itemID int64, eventType models.EventType, at time.Time) (*models.ItemEvent, error) {
	ec, err := q.itemEventContext(ctx, itemID)
	if err != nil {
		return nil, err
	}

	result, err := q.q.ExecContext(ctx,
		`INSERT INTO item_events (item_id, event_type, slot, rank, source_id, category, feed_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		itemID, eventType, ec.Slot, ec.Rank, ec.SourceID, ec.Category, ec.FeedID, formatTime(at),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting item event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting last insert id: %w", err)
	}

	ev := &models.ItemEvent{
		ID:        id,
		ItemID:    itemID,
		EventType: eventType,
		Rank:      nullIntPtr(ec.Rank),
		SourceID:  &ec.SourceID,
		Category:  &ec.Category,
		FeedID:    nullInt64Ptr(ec.FeedID),
		CreatedAt: at.UTC(),
	}
	if ec.Slot.Valid {
		slot := models.Slot(ec.Slot.String)
		ev.Slot = &slot
	}
	return ev, nil
}

// InsertImpressions records one impression per served feed entry.
func (q *Queries) InsertImpressions(ctx context.Context, feed *models.Feed, entries []models.FeedEntry, at time.Time) (int, error) {
	for _, e := range entries {
		_, err := q.q.ExecContext(ctx,
			`INSERT INTO item_events (item_id, event_type, slot, rank, source_id, category, feed_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ItemID, models.EventImpression, feed.Slot, e.Rank, e.SourceID, e.Category, feed.ID, formatTime(at),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting impression for item %d: %w", e.ItemID, err)
		}
	}
	return len(entries), nil
}

type EventMetrics struct {
	Impressions    int     `json:"impressions"`
	Clicks         int     `json:"clicks"`
	GeneratedSlots int     `json:"generated_slots"`
	OpenedSlots    int     `json:"opened_slots"`
	CTR            float64 `json:"ctr"`
	SlotOpenRate   float64 `json:"slot_open_rate"`
}

// Metrics aggregates engagement in the half-open window [from, to).
func (q *Queries) Metrics(ctx context.Context, from, to time.Time) (*EventMetrics, error) {
	var m EventMetrics
	lo, hi := formatTime(from), formatTime(to)

	err := q.q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN event_type = 'impression' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = 'click' THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN event_type = 'impression' THEN feed_id END)
		FROM item_events
		WHERE created_at >= ? AND created_at < ?`, lo, hi,
	).Scan(&m.Impressions, &m.Clicks, &m.OpenedSlots)
	if err != nil {
		return nil, fmt.Errorf("querying event metrics: %w", err)
	}

	err = q.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM feeds WHERE generated_at >= ? AND generated_at < ?", lo, hi,
	).Scan(&m.GeneratedSlots)
	if err != nil {
		return nil, fmt.Errorf("querying generated slots: %w", err)
	}

	if m.Impressions > 0 {
		m.CTR = float64(m.Clicks) / float64(m.Impressions)
	}
	if m.GeneratedSlots > 0 {
		m.SlotOpenRate = float64(m.OpenedSlots) / float64(m.GeneratedSlots)
	}
	return &m, nil
}
