package feed

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/thomaskoefod/trendframe/pkg/models"
)

const DefaultRSSLimit = 50

type RSSFetcher struct {
	parser    *gofeed.Parser
	policy    *bluemonday.Policy
	converter *md.Converter
	limit     int
}

// NewRSSFetcher creates an RSS/Atom fetcher. Each request is bounded by timeout
// on top of the caller's context.
func NewRSSFetcher(timeout time.Duration, limit int) *RSSFetcher {
	if limit <= 0 {
		limit = DefaultRSSLimit
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = "trendframe/1.0"

	return &RSSFetcher{
		parser:    parser,
		policy:    bluemonday.StrictPolicy(),
		converter: md.NewConverter("", true, nil),
		limit:     limit,
	}
}

// Fetch parses the feed at src.URL and returns at most limit usable entries
func (f *RSSFetcher) Fetch(ctx context.Context, src models.Source) ([]Candidate, error) {
	parsed, err := f.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", src.URL, err)
	}

	items := parsed.Items
	if len(items) > f.limit {
		items = items[:f.limit]
	}

	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		c, ok := f.convert(item)
		if !ok {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// convert maps a gofeed item, skipping entries without a link or title
func (f *RSSFetcher) convert(item *gofeed.Item) (Candidate, bool) {
	link := strings.TrimSpace(item.Link)
	title := f.plainText(item.Title)
	if link == "" || title == "" {
		return Candidate{}, false
	}

	var publishedAt *time.Time
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		publishedAt = &t
	} else if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		publishedAt = &t
	}

	description := item.Description
	if description == "" {
		description = item.Content
	}

	return Candidate{
		Title:       title,
		URL:         link,
		Summary:     f.summary(description),
		PublishedAt: publishedAt,
	}, true
}

// plainText drops any markup a publisher left in a title
func (f *RSSFetcher) plainText(s string) string {
	s = html.UnescapeString(f.policy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// summary renders an entry description as markdown. A description that fails
// to convert falls back to its plain text.
func (f *RSSFetcher) summary(description string) string {
	if strings.TrimSpace(description) == "" {
		return ""
	}
	out, err := f.converter.ConvertString(description)
	if err != nil {
		return f.plainText(description)
	}
	return strings.TrimSpace(out)
}
