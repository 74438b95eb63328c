// Package detail renders the record flyout overlay.
package detail

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sefarad-mx/portal/internal/livequery"
	"github.com/sefarad-mx/portal/internal/theme"
)

const (
	panelWidth = 64
	labelWidth = 14
)

var (
	stylePanel = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(theme.ColorBorder).
			Padding(0, 1)

	styleLabel = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed).
			Width(labelWidth)

	styleValue = lipgloss.NewStyle().
			Foreground(theme.ColorBright)

	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorBright)

	styleFooter = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed)

	styleSectionHeader = lipgloss.NewStyle().
				Bold(true).
				Foreground(theme.ColorDimmed)
)

// Model holds the state for the detail overlay.
type Model struct {
	Record     *livequery.Record
	ReceivedAt time.Time
}

// New creates a detail model for the given record.
func New(r *livequery.Record, receivedAt time.Time) Model {
	return Model{Record: r, ReceivedAt: receivedAt}
}

// View renders the detail panel. Returns an empty string if no record is set.
func (m Model) View() string {
	if m.Record == nil {
		return ""
	}
	return stylePanel.Width(panelWidth).Render(m.renderInner(m.Record))
}

func (m Model) renderInner(r *livequery.Record) string {
	var b strings.Builder

	b.WriteString(styleTitle.Render("Person: "+DisplayName(r)) + "\n")
	b.WriteString(strings.Repeat("─", panelWidth-4) + "\n")

	writeRow(&b, "ID", theme.Truncate(r.ID, 40))
	if !m.ReceivedAt.IsZero() {
		writeRow(&b, "Received", formatAge(m.ReceivedAt, time.Now()))
	}

	keys := FieldNames(r)
	b.WriteString("\n")
	b.WriteString(styleSectionHeader.Render(fmt.Sprintf("Fields (%d)", len(keys))) + "\n")
	if len(keys) == 0 {
		b.WriteString(styleFooter.Render("  no fields") + "\n")
	}
	for _, k := range keys {
		writeRow(&b, theme.Truncate(k, labelWidth-2), theme.Truncate(formatValue(r.Fields[k]), panelWidth-labelWidth-6))
	}

	b.WriteString("\n")
	b.WriteString(styleFooter.Render("[esc] close"))
	return b.String()
}

// FieldNames returns the record's field names in display order: "name" first,
// then alphabetical.
func FieldNames(r *livequery.Record) []string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "name" {
			return true
		}
		if keys[j] == "name" {
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}

// DisplayName returns a human-readable label for a record, preferring the
// name field, then a truncated ID.
func DisplayName(r *livequery.Record) string {
	if n := r.Name(); n != "" {
		return n
	}
	if len(r.ID) > 12 {
		return r.ID[:12]
	}
	return r.ID
}

func writeRow(b *strings.Builder, label, value string) {
	b.WriteString(styleLabel.Render(label+":") + styleValue.Render(value) + "\n")
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds ago", int(d.Minutes()), int(d.Seconds())%60)
	default:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm ago", h, m)
	}
}
