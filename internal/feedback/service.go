// Package feedback records reader reactions and engagement events.
package feedback

import (
	"context"
	"log/slog"
	"time"

	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

// Bookmarker mirrors saved items to an external bookmark service.
type Bookmarker interface {
	Enabled() bool
	SaveItem(ctx context.Context, item *models.Candidate) error
}

const pushTimeout = 10 * time.Second

type Service struct {
	db        *database.DB
	bookmarks Bookmarker
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates the feedback service. bookmarks may be nil.
func NewService(db *database.DB, bookmarks Bookmarker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:        db,
		bookmarks: bookmarks,
		logger:    logger,
		now:       time.Now,
	}
}

// Record appends a feedback row. A saved item is also pushed to the bookmark
// service; a failed push is logged and does not fail the call.
func (s *Service) Record(ctx context.Context, itemID int64, action models.FeedbackAction) (*models.Feedback, error) {
	fb, err := s.db.InsertFeedback(ctx, itemID, action, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("feedback recorded", "item_id", itemID, "action", action)

	if action == models.ActionSaved && s.bookmarks != nil && s.bookmarks.Enabled() {
		s.push(ctx, itemID)
	}
	return fb, nil
}

func (s *Service) push(ctx context.Context, itemID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	item, err := s.db.ItemByID(ctx, itemID)
	if err != nil {
		s.logger.Warn("bookmark push skipped", "item_id", itemID, "error", err)
		return
	}
	if err := s.bookmarks.SaveItem(ctx, item); err != nil {
		s.logger.Warn("bookmark push failed", "item_id", itemID, "error", err)
		return
	}
	s.logger.Debug("bookmark pushed", "item_id", itemID)
}

// Click records that the reader opened an item.
func (s *Service) Click(ctx context.Context, itemID int64) (*models.ItemEvent, error) {
	return s.db.InsertEvent(ctx, itemID, models.EventClick, s.now())
}

// Impressions records one impression per entry of a served feed.
func (s *Service) Impressions(ctx context.Context, feed *models.Feed, entries []models.FeedEntry) error {
	_, err := s.db.InsertImpressions(ctx, feed, entries, s.now())
	return err
}

// States returns the latest curation and preference action per item.
func (s *Service) States(ctx context.Context, itemIDs []int64) (curation, preference map[int64]models.FeedbackAction, err error) {
	if curation, err = s.db.LatestCuration(ctx, itemIDs); err != nil {
		return nil, nil, err
	}
	if preference, err = s.db.LatestPreference(ctx, itemIDs); err != nil {
		return nil, nil, err
	}
	return curation, preference, nil
}

// Bookmarks pages through saved items, most recently saved first.
func (s *Service) Bookmarks(ctx context.Context, limit, offset int) ([]database.Bookmark, int, error) {
	return s.db.SavedBookmarks(ctx, limit, offset)
}
