package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/thomaskoefod/trendframe/internal/database"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

// FeedSource serves and rebuilds slot feeds.
type FeedSource interface {
	Today(ctx context.Context, slot models.Slot) (*models.Feed, []models.FeedEntry, error)
	GenerateFeedForSlot(ctx context.Context, slot models.Slot) (int64, error)
}

// Reactions records what the reader does with feed items.
type Reactions interface {
	Record(ctx context.Context, itemID int64, action models.FeedbackAction) (*models.Feedback, error)
	Click(ctx context.Context, itemID int64) (*models.ItemEvent, error)
	Impressions(ctx context.Context, feed *models.Feed, entries []models.FeedEntry) error
	States(ctx context.Context, itemIDs []int64) (curation, preference map[int64]models.FeedbackAction, err error)
}

type View int

const (
	ViewFeed View = iota
	ViewEntryDetail
	ViewHelp
)

type Model struct {
	ctx       context.Context
	feeds     FeedSource
	reactions Reactions
	slot      models.Slot

	view          View
	feed          *models.Feed
	list          list.Model
	width         int
	height        int
	err           error
	statusMsg     string
	detailContent string
}

type feedLoadedMsg struct {
	feed       *models.Feed
	entries    []models.FeedEntry
	curation   map[int64]models.FeedbackAction
	preference map[int64]models.FeedbackAction
}

type feedbackMsg struct {
	itemID int64
	action models.FeedbackAction
}

type errorMsg struct {
	err error
}

type statusMsg string

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	entryTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			MarginBottom(1)
)

func New(ctx context.Context, feeds FeedSource, reactions Reactions, slot models.Slot) Model {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = fmt.Sprintf("trendframe - %s feed", strings.ToUpper(string(slot)))
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle

	return Model{
		ctx:       ctx,
		feeds:     feeds,
		reactions: reactions,
		slot:      slot,
		view:      ViewFeed,
		list:      l,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		loadFeed(m.ctx, m.feeds, m.reactions, m.slot),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case feedLoadedMsg:
		m.feed = msg.feed
		m.err = nil
		items := make([]list.Item, len(msg.entries))
		for i, e := range msg.entries {
			items[i] = entryItem{entry: e, curation: msg.curation[e.ItemID], preference: msg.preference[e.ItemID]}
		}
		m.list.SetItems(items)
		m.statusMsg = fmt.Sprintf("%s %s: %d items", msg.feed.FeedDate, msg.feed.Slot, len(msg.entries))
		return m, nil

	case feedbackMsg:
		for idx, li := range m.list.Items() {
			it, ok := li.(entryItem)
			if !ok || it.entry.ItemID != msg.itemID {
				continue
			}
			if msg.action.IsCuration() {
				it.curation = msg.action
			} else {
				it.preference = msg.action
			}
			cmd := m.list.SetItem(idx, it)
			m.statusMsg = fmt.Sprintf("Marked %s", msg.action)
			return m, cmd
		}
		return m, nil

	case errorMsg:
		m.err = msg.err
		return m, nil

	case statusMsg:
		m.statusMsg = string(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.view {
	case ViewFeed:
		return m.handleListKeys(msg)
	case ViewEntryDetail:
		return m.handleDetailKeys(msg)
	case ViewHelp:
		return m.handleHelpKeys(msg)
	}
	return m, nil
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Keys go to the filter input while the reader is typing a filter.
	if m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "enter":
		if i, ok := m.list.SelectedItem().(entryItem); ok {
			m.view = ViewEntryDetail
			m.detailContent = formatEntryForView(i.entry, m.width)
			return m, nil
		}

	case "r":
		return m, tea.Batch(
			loadFeed(m.ctx, m.feeds, m.reactions, m.slot),
			func() tea.Msg { return statusMsg("Refreshing feed...") },
		)

	case "g":
		return m, tea.Batch(
			regenerate(m.ctx, m.feeds, m.reactions, m.slot),
			func() tea.Msg { return statusMsg("Rebuilding feed...") },
		)

	case "?":
		m.view = ViewHelp
		return m, nil
	}

	if cmd, ok := m.entryAction(msg.String()); ok {
		return m, cmd
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// entryAction handles the keys shared by the list and the detail view.
func (m Model) entryAction(key string) (tea.Cmd, bool) {
	i, ok := m.list.SelectedItem().(entryItem)
	if !ok {
		return nil, false
	}
	switch key {
	case "s":
		return react(m.ctx, m.reactions, i.entry.ItemID, models.ActionSaved), true
	case "x":
		return react(m.ctx, m.reactions, i.entry.ItemID, models.ActionSkipped), true
	case "l":
		return react(m.ctx, m.reactions, i.entry.ItemID, models.ActionLiked), true
	case "d":
		return react(m.ctx, m.reactions, i.entry.ItemID, models.ActionDisliked), true
	case "o":
		return open(m.ctx, m.reactions, i.entry), true
	}
	return nil, false
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "esc", "backspace":
		m.view = ViewFeed
		m.detailContent = ""
		return m, nil

	case "?":
		m.view = ViewHelp
		return m, nil
	}

	if cmd, ok := m.entryAction(msg.String()); ok {
		return m, cmd
	}
	return m, nil
}

func (m Model) handleHelpKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "?", "q":
		if m.detailContent != "" {
			m.view = ViewEntryDetail
		} else {
			m.view = ViewFeed
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	switch m.view {
	case ViewFeed:
		return m.renderList()
	case ViewEntryDetail:
		return m.renderDetail()
	case ViewHelp:
		return m.renderHelp()
	}
	return ""
}

func (m Model) renderStatus(s *strings.Builder) {
	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	} else if m.statusMsg != "" {
		s.WriteString(statusStyle.Render(m.statusMsg))
	}
	s.WriteString("\n")
}

func (m Model) renderList() string {
	var s strings.Builder

	s.WriteString(m.list.View())
	s.WriteString("\n")
	m.renderStatus(&s)
	s.WriteString(helpStyle.Render("enter: details • s: save • x: skip • l/d: like/dislike • o: open • g: rebuild • ?: help • q: quit"))

	return s.String()
}

func (m Model) renderDetail() string {
	var s strings.Builder

	s.WriteString(m.detailContent)
	s.WriteString("\n\n")
	m.renderStatus(&s)
	s.WriteString(helpStyle.Render("s: save • x: skip • l/d: like/dislike • o: open in browser • esc: back • q: quit"))

	return s.String()
}

func (m Model) renderHelp() string {
	help := `
trendframe - Keyboard Shortcuts

Feed:
  ↑/↓, j/k     Navigate items
  enter        Show item details
  r            Reload today's feed
  g            Rebuild this slot's feed
  /            Filter items

Any item:
  s            Save (also sent to Raindrop.io when configured)
  x            Skip
  l / d        Like / dislike
  o            Open in browser

General:
  esc          Back to feed
  ?            Show/hide this help
  q, ctrl+c    Quit
`
	return help + "\n" + helpStyle.Render("Press ? or esc to close help")
}

func loadFeed(ctx context.Context, feeds FeedSource, reactions Reactions, slot models.Slot) tea.Cmd {
	return func() tea.Msg {
		feed, entries, err := feeds.Today(ctx, slot)
		if errors.Is(err, database.ErrNotFound) {
			return statusMsg(fmt.Sprintf("No %s feed yet today, press g to build it", slot))
		}
		if err != nil {
			return errorMsg{err}
		}

		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ItemID
		}
		curation, preference, err := reactions.States(ctx, ids)
		if err != nil {
			return errorMsg{err}
		}
		if err := reactions.Impressions(ctx, feed, entries); err != nil {
			return errorMsg{fmt.Errorf("recording impressions: %w", err)}
		}
		return feedLoadedMsg{feed: feed, entries: entries, curation: curation, preference: preference}
	}
}

func regenerate(ctx context.Context, feeds FeedSource, reactions Reactions, slot models.Slot) tea.Cmd {
	return func() tea.Msg {
		if _, err := feeds.GenerateFeedForSlot(ctx, slot); err != nil {
			return errorMsg{err}
		}
		return loadFeed(ctx, feeds, reactions, slot)()
	}
}

func react(ctx context.Context, reactions Reactions, itemID int64, action models.FeedbackAction) tea.Cmd {
	return func() tea.Msg {
		if _, err := reactions.Record(ctx, itemID, action); err != nil {
			return errorMsg{err}
		}
		return feedbackMsg{itemID: itemID, action: action}
	}
}

func open(ctx context.Context, reactions Reactions, entry models.FeedEntry) tea.Cmd {
	return func() tea.Msg {
		if err := openBrowser(entry.URL); err != nil {
			return errorMsg{fmt.Errorf("opening browser: %w", err)}
		}
		if _, err := reactions.Click(ctx, entry.ItemID); err != nil {
			return errorMsg{err}
		}
		return statusMsg("Opened in browser")
	}
}

func formatEntryForView(entry models.FeedEntry, width int) string {
	var s strings.Builder

	s.WriteString(entryTitleStyle.Render(entry.Title))
	s.WriteString("\n")
	if entry.TranslatedTitle != nil && *entry.TranslatedTitle != "" {
		s.WriteString(*entry.TranslatedTitle)
		s.WriteString("\n")
	}
	meta := fmt.Sprintf("%s | %s | rank %d | score %.2f", entry.SourceName, entry.Category, entry.Rank, entry.Score)
	if entry.PublishedAt != nil {
		meta += " | " + entry.PublishedAt.Format("Jan 2, 2006")
	}
	s.WriteString(helpStyle.Render(meta))
	s.WriteString("\n")
	s.WriteString(helpStyle.Render(entry.ShortReason))
	s.WriteString("\n\n")
	s.WriteString(renderMarkdown(entry.Summary, width))
	s.WriteString("\n")
	s.WriteString(entry.URL)

	return s.String()
}

// renderMarkdown renders a stored summary, falling back to the raw text.
func renderMarkdown(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return helpStyle.Render("(no summary)")
	}
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
