package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/thomaskoefod/trendframe/pkg/models"
)

// Candidate is one entry as a source reports it, before any dedupe or scoring.
type Candidate struct {
	Title       string
	URL         string
	Summary     string
	PublishedAt *time.Time
}

// Fetcher pulls the current entries of one source. A failed fetch returns an
// error; a source with nothing new returns an empty slice and nil.
type Fetcher interface {
	Fetch(ctx context.Context, src models.Source) ([]Candidate, error)
}

// Registry picks the fetcher for a source by its type.
type Registry map[models.SourceType]Fetcher

// NewRegistry wires the built-in source types.
func NewRegistry(rss *RSSFetcher, hn *HNFetcher) Registry {
	return Registry{
		models.SourceRSS: rss,
		models.SourceHN:  hn,
	}
}

// Fetch dispatches to the fetcher registered for src.Type
func (r Registry) Fetch(ctx context.Context, src models.Source) ([]Candidate, error) {
	f, ok := r[src.Type]
	if !ok {
		return nil, fmt.Errorf("no fetcher for source type %q", src.Type)
	}
	return f.Fetch(ctx, src)
}
