package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/sefarad-mx/portal/internal/theme"
)

const title = "Sefarad MX · Genealogy Portal"

// Model holds the header bar state.
type Model struct {
	Status  string // controller status name
	Subject string // "" when there is no session
	Guest   bool
	Records int
	Width   int
}

// New creates a header bar model.
func New() Model {
	return Model{Status: "initializing"}
}

// UserLabel is what the header shows for the current subject.
func (m Model) UserLabel() string {
	switch {
	case m.Subject == "":
		return "disconnected"
	case m.Guest:
		return "guest " + m.Subject
	default:
		return "user " + m.Subject
	}
}

// View renders the header bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var userStr string
	if m.Subject != "" {
		userStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● " + theme.Truncate(m.UserLabel(), 48))
	} else {
		userStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ " + m.UserLabel())
	}

	statusStr := lipgloss.NewStyle().Foreground(theme.StatusColor(m.Status)).Render(m.Status)
	counts := fmt.Sprintf("%d records", m.Records)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := theme.StyleTitle.Render(title) + sep + userStr + sep + statusStr + sep + counts

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
