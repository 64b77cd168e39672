package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/thomaskoefod/trendframe/pkg/models"
)

const (
	DefaultHNSearchURL = "https://hn.algolia.com/api/v1/search_by_date?tags=story&numericFilters=points>20"
	DefaultHNLimit     = 80
)

// algoliaResponse is the subset of the Algolia search response we read.
type algoliaResponse struct {
	Hits []algoliaHit `json:"hits"`
}

type algoliaHit struct {
	ObjectID  string `json:"objectID"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Points    int    `json:"points"`
	CreatedAt string `json:"created_at"`
}

// HNFetcher reads recent Hacker News stories from the Algolia search API. The
// source's own URL is informational; every hn source queries searchURL.
type HNFetcher struct {
	searchURL  string
	limit      int
	httpClient *http.Client
}

func NewHNFetcher(searchURL string, timeout time.Duration, limit int) *HNFetcher {
	if searchURL == "" {
		searchURL = DefaultHNSearchURL
	}
	if limit <= 0 {
		limit = DefaultHNLimit
	}
	return &HNFetcher{
		searchURL:  searchURL,
		limit:      limit,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (f *HNFetcher) Fetch(ctx context.Context, _ models.Source) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to Algolia: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Algolia API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result algoliaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	hits := result.Hits
	if len(hits) > f.limit {
		hits = hits[:f.limit]
	}

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if h.URL == "" || h.Title == "" {
			continue
		}
		out = append(out, Candidate{
			Title:       h.Title,
			URL:         h.URL,
			PublishedAt: parseHNTime(h.CreatedAt),
		})
	}
	return out, nil
}

// parseHNTime reads Algolia's created_at (e.g. 2026-02-09T02:41:00Z or with
// milliseconds). Unparseable values leave the story undated.
func parseHNTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
