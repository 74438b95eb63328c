// Package notice renders the static markdown panels of the portal with
// Glamour.
package notice

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

const minWidth = 20

// Style is the Glamour standard style used for panels. "notty" renders plain
// text.
var Style = "dark"

// Render renders text wrapped to width. On a renderer error the raw markdown
// is returned so the panel still shows something.
func Render(text string, width int) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if width < minWidth {
		width = minWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(Style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// Panel is a markdown blurb re-rendered only when the width changes.
type Panel struct {
	source   string
	width    int
	rendered string
}

func NewPanel(source string) Panel {
	return Panel{source: source}
}

// SetWidth re-renders the panel for a new terminal width.
func (p *Panel) SetWidth(width int) {
	if width == p.width && p.rendered != "" {
		return
	}
	p.width = width
	p.rendered = Render(p.source, width)
}

func (p Panel) View() string {
	if p.rendered == "" {
		return Render(p.source, p.width)
	}
	return p.rendered
}
