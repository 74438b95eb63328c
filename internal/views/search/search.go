// Package search is the placeholder for the document search engine.
package search

import "github.com/sefarad-mx/portal/internal/views/notice"

const blurb = `# Search

The search engine over indexed records is **in development**.

Planned: full-text search across family names, places and dates, backed by
an Elasticsearch index fed from the document backend.`

type Model struct {
	panel notice.Panel
}

func New() Model {
	return Model{panel: notice.NewPanel(blurb)}
}

func (m *Model) SetWidth(w int) { m.panel.SetWidth(w) }

func (m Model) View() string { return m.panel.View() }
