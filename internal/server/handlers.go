package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultJobLimit = 20
	maxJobLimit     = 200
	metricsWindow   = 7
)

type feedItemOut struct {
	ItemID          int64                  `json:"item_id"`
	Title           string                 `json:"title"`
	TranslatedTitle *string                `json:"translated_title"`
	Source          string                 `json:"source"`
	Category        string                 `json:"category"`
	URL             string                 `json:"url"`
	ShortReason     string                 `json:"short_reason"`
	Rank            int                    `json:"rank"`
	Saved           bool                   `json:"saved"`
	Preference      *models.FeedbackAction `json:"preference"`
}

type feedGroupOut struct {
	Category string        `json:"category"`
	Items    []feedItemOut `json:"items"`
}

type feedOut struct {
	FeedID      int64          `json:"feed_id"`
	FeedDate    string         `json:"feed_date"`
	Slot        models.Slot    `json:"slot"`
	GeneratedAt time.Time      `json:"generated_at"`
	Items       []feedItemOut  `json:"items"`
	Groups      []feedGroupOut `json:"groups"`
}

type feedbackIn struct {
	ItemID int64                 `json:"item_id"`
	Action models.FeedbackAction `json:"action"`
}

type clickIn struct {
	ItemID int64 `json:"item_id"`
}

type bookmarkOut struct {
	ItemID          int64     `json:"item_id"`
	Title           string    `json:"title"`
	TranslatedTitle *string   `json:"translated_title"`
	URL             string    `json:"url"`
	Source          string    `json:"source"`
	Category        string    `json:"category"`
	Saved           bool      `json:"saved"`
	SavedAt         time.Time `json:"saved_at"`
}

type bookmarksOut struct {
	Page       int           `json:"page"`
	Size       int           `json:"size"`
	Total      int           `json:"total"`
	TotalPages int           `json:"total_pages"`
	HasNext    bool          `json:"has_next"`
	HasPrev    bool          `json:"has_prev"`
	Items      []bookmarkOut `json:"items"`
}

type metricsOut struct {
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`
	*database.EventMetrics
}

func (s *Server) health(c echo.Context) error {
	if err := s.deps.DB.PingContext(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

func (s *Server) todayFeed(c echo.Context) error {
	ctx := c.Request().Context()
	slot, err := models.ParseSlot(c.QueryParam("slot"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid_slot")
	}

	feed, entries, err := s.deps.Builder.Today(ctx, slot)
	if errors.Is(err, database.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "feed_not_generated")
	}
	if err != nil {
		return err
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ItemID
	}
	curation, preference, err := s.deps.Feedback.States(ctx, ids)
	if err != nil {
		return err
	}

	out := feedOut{
		FeedID:      feed.ID,
		FeedDate:    feed.FeedDate,
		Slot:        feed.Slot,
		GeneratedAt: feed.GeneratedAt,
		Items:       make([]feedItemOut, 0, len(entries)),
		Groups:      []feedGroupOut{},
	}
	groupIdx := map[string]int{}
	for _, e := range entries {
		item := feedItemOut{
			ItemID:          e.ItemID,
			Title:           e.Title,
			TranslatedTitle: e.TranslatedTitle,
			Source:          e.SourceName,
			Category:        e.Category,
			URL:             e.URL,
			ShortReason:     e.ShortReason,
			Rank:            e.Rank,
			Saved:           curation[e.ItemID] == models.ActionSaved,
		}
		if p, ok := preference[e.ItemID]; ok {
			item.Preference = &p
		}
		out.Items = append(out.Items, item)

		i, ok := groupIdx[e.Category]
		if !ok {
			i = len(out.Groups)
			groupIdx[e.Category] = i
			out.Groups = append(out.Groups, feedGroupOut{Category: e.Category})
		}
		out.Groups[i].Items = append(out.Groups[i].Items, item)
	}

	if err := s.deps.Feedback.Impressions(ctx, feed, entries); err != nil {
		s.deps.Logger.Warn("recording impressions failed", "feed_id", feed.ID, "error", err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createFeedback(c echo.Context) error {
	var in feedbackIn
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid_body")
	}
	if !in.Action.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid_action")
	}

	fb, err := s.deps.Feedback.Record(c.Request().Context(), in.ItemID, in.Action)
	if errors.Is(err, database.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "item_not_found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"ok": true, "feedback_id": fb.ID})
}

func (s *Server) createClick(c echo.Context) error {
	var in clickIn
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid_body")
	}

	ev, err := s.deps.Feedback.Click(c.Request().Context(), in.ItemID)
	if errors.Is(err, database.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "item_not_found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"ok": true, "event_id": ev.ID})
}

func (s *Server) bookmarks(c echo.Context) error {
	page, err := intParam(c, "page", 1)
	if err != nil || page < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid_page")
	}
	size, err := intParam(c, "size", defaultPageSize)
	if err != nil || size < 1 || size > maxPageSize {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid_size")
	}

	marks, total, err := s.deps.Feedback.Bookmarks(c.Request().Context(), size, (page-1)*size)
	if err != nil {
		return err
	}

	totalPages := (total + size - 1) / size
	out := bookmarksOut{
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
		Items:      make([]bookmarkOut, 0, len(marks)),
	}
	for _, b := range marks {
		out.Items = append(out.Items, bookmarkOut{
			ItemID:          b.ID,
			Title:           b.Title,
			TranslatedTitle: b.TranslatedTitle,
			URL:             b.URL,
			Source:          b.SourceName,
			Category:        b.Category,
			Saved:           true,
			SavedAt:         b.SavedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) runIngestion(c echo.Context) error {
	res, err := s.deps.Ingester.RunIngestion(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "ingestion_failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{
		"scanned":        res.Scanned,
		"inserted":       res.Inserted,
		"failed_sources": res.FailedSources,
	})
}

func (s *Server) generateFeed(c echo.Context) error {
	slot, err := models.ParseSlot(c.Param("slot"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid_slot")
	}
	feedID, err := s.deps.Builder.GenerateFeedForSlot(c.Request().Context(), slot)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "feed_generation_failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"feed_id": feedID, "slot": slot})
}

func (s *Server) listJobs(c echo.Context) error {
	limit, err := intParam(c, "limit", defaultJobLimit)
	if err != nil || limit < 1 || limit > maxJobLimit {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid_limit")
	}
	jobs, err := s.deps.Ledger.Recent(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid_job_id")
	}
	job, err := s.deps.Ledger.Job(c.Request().Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "job_not_found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// engagementMetrics reports over whole days in the app time zone, the last
// seven days ending today by default. Both bounds are inclusive.
func (s *Server) engagementMetrics(c echo.Context) error {
	loc := s.deps.Location
	now := s.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	to := today
	if v := c.QueryParam("date_to"); v != "" {
		t, err := time.ParseInLocation(time.DateOnly, v, loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid_date_format")
		}
		to = t
	}
	from := to.AddDate(0, 0, -(metricsWindow - 1))
	if v := c.QueryParam("date_from"); v != "" {
		t, err := time.ParseInLocation(time.DateOnly, v, loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid_date_format")
		}
		from = t
	}
	if from.After(to) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid_date_range")
	}

	m, err := s.deps.DB.Metrics(c.Request().Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, metricsOut{
		DateFrom:     from.Format(time.DateOnly),
		DateTo:       to.Format(time.DateOnly),
		EventMetrics: m,
	})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
