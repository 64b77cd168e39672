package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

type entryItem struct {
	entry      models.FeedEntry
	curation   models.FeedbackAction
	preference models.FeedbackAction
}

func (i entryItem) Title() string {
	title := i.entry.Title
	if i.entry.TranslatedTitle != nil && *i.entry.TranslatedTitle != "" {
		title = *i.entry.TranslatedTitle
	}
	return fmt.Sprintf("%2d. %s%s", i.entry.Rank, marker(i.curation, i.preference), title)
}

func (i entryItem) Description() string {
	return fmt.Sprintf("%s | %s | %.2f", i.entry.Category, i.entry.SourceName, i.entry.Score)
}

func (i entryItem) FilterValue() string {
	return i.entry.Title + " " + i.entry.Category
}

func marker(curation, preference models.FeedbackAction) string {
	var m string
	switch curation {
	case models.ActionSaved:
		m += "★ "
	case models.ActionSkipped:
		m += "✗ "
	}
	switch preference {
	case models.ActionLiked:
		m += "+ "
	case models.ActionDisliked:
		m += "- "
	}
	return m
}

var _ list.Item = entryItem{}
