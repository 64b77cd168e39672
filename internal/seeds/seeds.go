// Package seeds keeps the sources table in line with the built-in catalogue
// and any sources added in the config file.
package seeds

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/thomaskoefod/trendframe/internal/config"
	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

//go:embed sources.yaml
var catalogueYAML []byte

// Summary reports what a Sync changed.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// Default returns the built-in source catalogue.
func Default() ([]config.SourceConfig, error) {
	var out []config.SourceConfig
	if err := yaml.Unmarshal(catalogueYAML, &out); err != nil {
		return nil, fmt.Errorf("parsing source catalogue: %w", err)
	}
	return out, nil
}

// Merge overlays extra on base by URL. Entries of extra with a new URL are
// appended; the rest replace the base entry in place.
func Merge(base, extra []config.SourceConfig) []config.SourceConfig {
	out := append([]config.SourceConfig(nil), base...)
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.URL] = i
	}
	for _, s := range extra {
		if i, ok := index[s.URL]; ok {
			out[i] = s
			continue
		}
		index[s.URL] = len(out)
		out = append(out, s)
	}
	return out
}

// Sync upserts the catalogue plus extra in one transaction.
func Sync(ctx context.Context, db *database.DB, extra []config.SourceConfig) (*Summary, error) {
	catalogue, err := Default()
	if err != nil {
		return nil, err
	}
	rows := Merge(catalogue, extra)

	sum := &Summary{Total: len(rows)}
	err = db.InTx(ctx, func(q *database.Queries) error {
		for _, row := range rows {
			src := toSource(row)
			created, updated, err := q.UpsertSource(ctx, &src)
			if err != nil {
				return err
			}
			if created {
				sum.Created++
			}
			if updated {
				sum.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("syncing sources: %w", err)
	}
	return sum, nil
}

func toSource(s config.SourceConfig) models.Source {
	src := models.Source{
		Type:     s.Type,
		Name:     s.Name,
		URL:      s.URL,
		Category: s.Category,
		Enabled:  true,
		Weight:   s.Weight,
	}
	if src.Name == "" {
		src.Name = s.URL
	}
	if src.Category == "" {
		src.Category = "general"
	}
	if src.Weight == 0 {
		src.Weight = 1.0
	}
	if s.Enabled != nil {
		src.Enabled = *s.Enabled
	}
	return src
}
