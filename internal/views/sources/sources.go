// Package sources is the placeholder for the document indexing tool.
package sources

import "github.com/sefarad-mx/portal/internal/views/notice"

const blurb = `# Sources

The document indexing tool is **in development**.

Planned: upload of notarial records, ketubot and inquisition trial
transcripts, with extraction into searchable family tree entries.`

type Model struct {
	panel notice.Panel
}

func New() Model {
	return Model{panel: notice.NewPanel(blurb)}
}

func (m *Model) SetWidth(w int) { m.panel.SetWidth(w) }

func (m Model) View() string { return m.panel.View() }
