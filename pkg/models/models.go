package models

import (
	"fmt"
	"strings"
	"time"
)

type SourceType string

const (
	SourceRSS SourceType = "rss"
	SourceHN  SourceType = "hn"
)

type Slot string

const (
	SlotAM Slot = "am"
	SlotPM Slot = "pm"
)

// ParseSlot accepts "am"/"pm" in any case.
func ParseSlot(s string) (Slot, error) {
	switch Slot(strings.ToLower(strings.TrimSpace(s))) {
	case SlotAM:
		return SlotAM, nil
	case SlotPM:
		return SlotPM, nil
	}
	return "", fmt.Errorf("invalid slot %q: must be am or pm", s)
}

type FeedbackAction string

const (
	ActionSaved    FeedbackAction = "saved"
	ActionSkipped  FeedbackAction = "skipped"
	ActionLiked    FeedbackAction = "liked"
	ActionDisliked FeedbackAction = "disliked"
)

// IsCuration reports whether the action belongs to the saved/skipped family.
func (a FeedbackAction) IsCuration() bool {
	return a == ActionSaved || a == ActionSkipped
}

// IsPreference reports whether the action belongs to the liked/disliked family.
func (a FeedbackAction) IsPreference() bool {
	return a == ActionLiked || a == ActionDisliked
}

func (a FeedbackAction) Valid() bool {
	return a.IsCuration() || a.IsPreference()
}

type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
)

type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

type Source struct {
	ID            int64      `json:"id"`
	Type          SourceType `json:"type"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Category      string     `json:"category"`
	Enabled       bool       `json:"enabled"`
	Weight        float64    `json:"weight"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

type Item struct {
	ID              int64      `json:"id"`
	SourceID        int64      `json:"source_id"`
	CanonicalURL    string     `json:"canonical_url"`
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	TranslatedTitle *string    `json:"translated_title,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	FetchedAt       time.Time  `json:"fetched_at"`
	Language        string     `json:"language"`
	DedupeKey       string     `json:"dedupe_key"`
	Score           float64    `json:"score"`
}

// Candidate is an item joined with the source attributes feed assembly groups on.
type Candidate struct {
	Item
	SourceName string `json:"source_name"`
	Category   string `json:"category"`
}

type Feed struct {
	ID          int64     `json:"id"`
	FeedDate    string    `json:"feed_date"`
	Slot        Slot      `json:"slot"`
	GeneratedAt time.Time `json:"generated_at"`
}

type FeedItem struct {
	ID          int64  `json:"id"`
	FeedID      int64  `json:"feed_id"`
	ItemID      int64  `json:"item_id"`
	Rank        int    `json:"rank"`
	ShortReason string `json:"short_reason"`
}

// FeedEntry is a ranked feed item with the item and source fields needed to display it.
type FeedEntry struct {
	FeedItem
	Candidate
}

type Feedback struct {
	ID        int64          `json:"id"`
	ItemID    int64          `json:"item_id"`
	Action    FeedbackAction `json:"action"`
	CreatedAt time.Time      `json:"created_at"`
	Slot      *Slot          `json:"slot,omitempty"`
	Rank      *int           `json:"rank,omitempty"`
	SourceID  *int64         `json:"source_id,omitempty"`
	Category  *string        `json:"category,omitempty"`
	FeedID    *int64         `json:"feed_id,omitempty"`
}

type ItemEvent struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"item_id"`
	EventType EventType `json:"event_type"`
	Slot      *Slot     `json:"slot,omitempty"`
	Rank      *int      `json:"rank,omitempty"`
	SourceID  *int64    `json:"source_id,omitempty"`
	Category  *string   `json:"category,omitempty"`
	FeedID    *int64    `json:"feed_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Job struct {
	ID           int64      `json:"id"`
	JobType      string     `json:"job_type"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Status       JobStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}
