// Package server exposes the feed, feedback and admin HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/internal/feedback"
	"github.com/thomaskoefod/trendframe/internal/ingest"
	"github.com/thomaskoefod/trendframe/internal/jobs"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

type Ingester interface {
	RunIngestion(ctx context.Context) (*ingest.Result, error)
}

type FeedBuilder interface {
	GenerateFeedForSlot(ctx context.Context, slot models.Slot) (int64, error)
	Today(ctx context.Context, slot models.Slot) (*models.Feed, []models.FeedEntry, error)
}

type Deps struct {
	DB         *database.DB
	Ingester   Ingester
	Builder    FeedBuilder
	Feedback   *feedback.Service
	Ledger     *jobs.Ledger
	Location   *time.Location
	AdminToken string
	Logger     *slog.Logger
}

type Server struct {
	echo *echo.Echo
	deps Deps
	now  func() time.Time
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(deps.Logger))

	s := &Server{echo: e, deps: deps, now: time.Now}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/feeds/today", s.todayFeed)
	e.POST("/feedback", s.createFeedback)
	e.POST("/events/click", s.createClick)
	e.GET("/bookmarks", s.bookmarks)

	admin := e.Group("/admin", AdminAuth(s.deps.AdminToken))
	admin.POST("/run-ingestion", s.runIngestion)
	admin.POST("/generate-feed/:slot", s.generateFeed)
	admin.GET("/jobs", s.listJobs)
	admin.GET("/jobs/:id", s.getJob)
	admin.GET("/metrics", s.engagementMetrics)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.deps.Logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	})
}
