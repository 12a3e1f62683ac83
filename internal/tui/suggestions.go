package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/pocketd/internal/models"
)

const maxVisibleSuggestions = 5

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command", "schedule", "action"
}

// Suggestions completes the command bar after a trigger character:
// "/" for commands, "@" for schedules and "!" for quick actions.
type Suggestions struct {
	schedules   []SuggestionItem
	filtered    []SuggestionItem
	selectedIdx int
	prefix      string
	query       string
}

var commandSuggestions = []SuggestionItem{
	{Text: "cmd", Description: "Send a prompt to the agent as you", Type: "command"},
	{Text: "release", Description: "Force-release the device lock", Type: "command"},
	{Text: "run", Description: "Run the selected schedule now", Type: "command"},
	{Text: "enable", Description: "Enable the selected schedule", Type: "command"},
	{Text: "disable", Description: "Disable the selected schedule", Type: "command"},
	{Text: "sched start", Description: "Start the scheduler loop", Type: "command"},
	{Text: "sched stop", Description: "Stop the scheduler loop", Type: "command"},
	{Text: "notify start", Description: "Start watching notifications", Type: "command"},
	{Text: "notify stop", Description: "Stop watching notifications", Type: "command"},
	{Text: "quit", Description: "Leave the dashboard", Type: "command"},
}

var actionSuggestions = []SuggestionItem{
	{Text: "take-back", Description: "Release the lock held by an agent", Type: "action"},
	{Text: "pause-all", Description: "Stop scheduler and notification watcher", Type: "action"},
	{Text: "resume-all", Description: "Start scheduler and notification watcher", Type: "action"},
}

var suggestionHeaders = map[string]string{
	"/": "💡 Commands",
	"@": "🕒 Schedules",
	"!": "⚡ Quick Actions",
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{}
}

// Update refilters for the current command bar contents.
func (s *Suggestions) Update(input string) {
	s.prefix, s.query = "", ""
	if input != "" {
		if _, ok := suggestionHeaders[input[:1]]; ok {
			s.prefix = input[:1]
			s.query = strings.ToLower(input[1:])
		}
	}
	s.refilter()
}

// SetSchedules supplies the schedules offered after "@".
func (s *Suggestions) SetSchedules(tasks []models.ScheduledTask) {
	s.schedules = s.schedules[:0]
	for _, t := range tasks {
		s.schedules = append(s.schedules, SuggestionItem{
			Text:        t.ID,
			Description: fmt.Sprintf("%s (%s)", t.Name, t.CronExpression),
			Type:        "schedule",
		})
	}
	if s.prefix == "@" {
		s.refilter()
	}
}

func (s *Suggestions) source() []SuggestionItem {
	switch s.prefix {
	case "/":
		return commandSuggestions
	case "@":
		return s.schedules
	case "!":
		return actionSuggestions
	}
	return nil
}

// refilter keeps items containing the query, prefix matches first.
func (s *Suggestions) refilter() {
	s.selectedIdx = 0
	s.filtered = s.filtered[:0]
	for _, item := range s.source() {
		if strings.Contains(strings.ToLower(item.Text), s.query) {
			s.filtered = append(s.filtered, item)
		}
	}
	if s.query == "" {
		return
	}
	sort.SliceStable(s.filtered, func(i, j int) bool {
		pi := strings.HasPrefix(strings.ToLower(s.filtered[i].Text), s.query)
		pj := strings.HasPrefix(strings.ToLower(s.filtered[j].Text), s.query)
		return pi && !pj
	})
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if n := len(s.filtered); n > 0 {
		s.selectedIdx = (s.selectedIdx + 1) % n
	}
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if n := len(s.filtered); n > 0 {
		s.selectedIdx = (s.selectedIdx + n - 1) % n
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.IsVisible() {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.prefix != "" && len(s.filtered) > 0
}

// window returns the slice bounds of the items to draw, scrolled so the
// selection stays in view.
func (s *Suggestions) window() (int, int) {
	start := 0
	if s.selectedIdx >= maxVisibleSuggestions {
		start = s.selectedIdx - maxVisibleSuggestions + 1
	}
	end := min(start+maxVisibleSuggestions, len(s.filtered))
	return start, end
}

// Render draws the dropdown below the command bar.
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(width - 4)
	selectedStyle := lipgloss.NewStyle().
		Background(primaryColor).
		Foreground(fgColor).
		Bold(true)
	itemStyle := lipgloss.NewStyle().Foreground(fgColor)
	descStyle := lipgloss.NewStyle().Foreground(mutedColor).Italic(true)

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(suggestionHeaders[s.prefix]))
	b.WriteString("\n")

	start, end := s.window()
	if start > 0 {
		b.WriteString(descStyle.Render(fmt.Sprintf("  ↑ %d more", start)) + "\n")
	}
	for i := start; i < end; i++ {
		item := s.filtered[i]
		if i == s.selectedIdx {
			b.WriteString(selectedStyle.Render("▶ " + item.Text + " " + item.Description))
		} else {
			b.WriteString(itemStyle.Render("  "+item.Text) + " " + descStyle.Render(item.Description))
		}
		b.WriteString("\n")
	}
	if rest := len(s.filtered) - end; rest > 0 {
		b.WriteString(descStyle.Render(fmt.Sprintf("  ↓ %d more", rest)))
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
