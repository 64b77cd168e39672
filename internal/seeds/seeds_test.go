package seeds

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/trendframe/internal/config"
	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

func TestDefault(t *testing.T) {
	catalogue, err := Default()
	require.NoError(t, err)
	require.Len(t, catalogue, 29)

	assert.Equal(t, models.SourceHN, catalogue[0].Type)
	assert.Equal(t, "Hacker News", catalogue[0].Name)
	assert.Equal(t, 1.1, catalogue[0].Weight)

	urls := map[string]bool{}
	for _, s := range catalogue {
		assert.NotEmpty(t, s.Category, s.Name)
		assert.False(t, urls[s.URL], "duplicate url %s", s.URL)
		urls[s.URL] = true
	}
}

func TestMerge(t *testing.T) {
	off := false
	base := []config.SourceConfig{{URL: "a", Name: "A"}, {URL: "b", Name: "B"}}
	extra := []config.SourceConfig{{URL: "b", Name: "B2", Enabled: &off}, {URL: "c", Name: "C"}}

	got := Merge(base, extra)
	require.Len(t, got, 3)
	assert.Equal(t, "B2", got[1].Name)
	assert.Equal(t, "C", got[2].Name)
	assert.Equal(t, "B", base[1].Name, "base is not modified")
}

func TestSync(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "seeds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	sum, err := Sync(ctx, db, nil)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Created: 29, Total: 29}, sum)

	sum, err = Sync(ctx, db, nil)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Total: 29}, sum, "second sync is a no-op")

	off := false
	extra := []config.SourceConfig{
		{Type: models.SourceRSS, Name: "GeekNews", URL: "https://news.hada.io/rss/news", Category: "korea-tech", Weight: 1.1, Enabled: &off},
		{Type: models.SourceRSS, URL: "https://go.dev/blog/feed.atom"},
	}
	sum, err = Sync(ctx, db, extra)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Created: 1, Updated: 1, Total: 30}, sum)

	enabled, err := db.EnabledSources(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 29)

	all, err := db.Sources(ctx)
	require.NoError(t, err)
	last := all[len(all)-1]
	assert.Equal(t, "https://go.dev/blog/feed.atom", last.Name)
	assert.Equal(t, "general", last.Category)
	assert.Equal(t, 1.0, last.Weight)
}
