// Package tree renders the family tree window: the records of the live
// subscription, one line each, with a selection cursor.
package tree

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sefarad-mx/portal/internal/livequery"
	"github.com/sefarad-mx/portal/internal/theme"
)

const unnamed = "(unnamed)"

type Model struct {
	Snapshot *livequery.Snapshot
	Selected int
	Width    int
	// Guest sessions are refused by the backend, so no snapshot is coming.
	Guest bool
}

func New() Model {
	return Model{}
}

// SetSnapshot replaces the window and keeps the cursor in range.
func (m *Model) SetSnapshot(s *livequery.Snapshot) {
	m.Snapshot = s
	n := m.Len()
	if m.Selected >= n {
		m.Selected = n - 1
	}
	if m.Selected < 0 {
		m.Selected = 0
	}
}

func (m Model) Len() int {
	if m.Snapshot == nil {
		return 0
	}
	return m.Snapshot.Len()
}

func (m *Model) Next() {
	if n := m.Len(); n > 0 {
		m.Selected = (m.Selected + 1) % n
	}
}

func (m *Model) Prev() {
	if n := m.Len(); n > 0 {
		m.Selected = (m.Selected - 1 + n) % n
	}
}

// Current returns the selected record, if any.
func (m Model) Current() (livequery.Record, bool) {
	if m.Len() == 0 {
		return livequery.Record{}, false
	}
	return m.Snapshot.Records[m.Selected], true
}

// Line formats one record.
func Line(r livequery.Record) string {
	name := r.Name()
	if name == "" {
		name = unnamed
	}
	return fmt.Sprintf("Person %s · %s", r.ID, name)
}

// View renders the tree list. A nil snapshot means the first delivery is
// still pending, except for guests who never get one.
func (m Model) View() string {
	header := theme.StyleHeader.Render("Family tree")
	if m.Snapshot == nil && !m.Guest {
		return lipgloss.JoinVertical(lipgloss.Left, header, "", theme.StyleDimmed.Render("  Waiting for the first snapshot..."))
	}
	if m.Len() == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, header, "", theme.StyleDimmed.Render("  No entries in the tree yet."))
	}

	width := m.Width - 4
	if width < 30 {
		width = 30
	}
	lines := []string{header, ""}
	for i, r := range m.Snapshot.Records {
		prefix := "  "
		line := theme.Truncate(Line(r), width)
		if i == m.Selected {
			prefix = "> "
			line = theme.StyleSelected.Render(line)
		}
		lines = append(lines, prefix+line)
	}
	if !m.Snapshot.ReceivedAt.IsZero() {
		lines = append(lines, "", theme.StyleDimmed.Render("  updated "+m.Snapshot.ReceivedAt.Format("15:04:05")))
	}
	return strings.Join(lines, "\n")
}

// ErrorView renders the data-error branch of the tree, naming the subject
// the portal runs under. exhausted means no further retry is scheduled.
func ErrorView(err error, subject string, exhausted bool, width int) string {
	if width < 40 {
		width = 40
	}
	who := subject
	if who == "" {
		who = "none"
	}
	next := "Retrying in the background."
	if exhausted {
		next = "Gave up retrying. Sign out (o) to try again."
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		theme.StyleHeader.Render("Data error"),
		"",
		err.Error(),
		"",
		theme.StyleDimmed.Render("User ID: "+who),
		theme.StyleDimmed.Render(next),
	)
	return theme.StyleErrorPanel.Width(width - 4).Render(body)
}
