package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sefarad-mx/portal/internal/syncctl"
	"github.com/sefarad-mx/portal/internal/theme"
	"github.com/sefarad-mx/portal/internal/views/debug"
	"github.com/sefarad-mx/portal/internal/views/detail"
	"github.com/sefarad-mx/portal/internal/views/search"
	"github.com/sefarad-mx/portal/internal/views/sources"
	"github.com/sefarad-mx/portal/internal/views/status"
	"github.com/sefarad-mx/portal/internal/views/tree"
)

const signOutTimeout = 10 * time.Second

// Source is the controller as seen by the TUI.
type Source interface {
	Updates() <-chan syncctl.Presentation
	Current() syncctl.Presentation
	SignOut(ctx context.Context) error
}

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDetail
	OverlayLog
)

type presentationMsg struct{ p syncctl.Presentation }

type signOutMsg struct{ err error }

// Model is the root Bubble Tea model.
type Model struct {
	src    Source
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	pres    syncctl.Presentation
	view    View
	overlay Overlay

	// Sub-views.
	statusBar status.Model
	tree      tree.Model
	search    search.Model
	sources   sources.Model
	log       debug.Model
	detail    detail.Model
	spinner   spinner.Model
}

// New creates the root model.
func New(src Source) Model {
	ctx, cancel := context.WithCancel(context.Background())
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorAccent)

	m := Model{
		src:       src,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		statusBar: status.New(),
		tree:      tree.New(),
		search:    search.New(),
		sources:   sources.New(),
		log:       debug.New(),
		spinner:   sp,
	}
	if src != nil {
		m.apply(src.Current())
	}
	return m
}

// Init starts the spinner and the controller feed.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate())
}

func (m Model) waitForUpdate() tea.Cmd {
	if m.src == nil {
		return nil
	}
	ch := m.src.Updates()
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return presentationMsg{p: p}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.tree.Width = msg.Width
		m.search.SetWidth(msg.Width - 4)
		m.sources.SetWidth(msg.Width - 4)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case presentationMsg:
		m.apply(msg.p)
		return m, m.waitForUpdate()

	case signOutMsg:
		if msg.err != nil {
			m.log.Add("err", "sign out failed: "+msg.err.Error())
		}
		return m, nil
	}

	return m, nil
}

// apply adopts a new presentation and records what changed in the log.
func (m *Model) apply(p syncctl.Presentation) {
	prev := m.pres
	if p.Status != prev.Status {
		m.log.Add("auth", "status "+p.Status.String())
	}
	if p.SubjectID() != prev.SubjectID() && p.SubjectID() != "" {
		m.log.Add("auth", fmt.Sprintf("session %s (%s)", p.SubjectID(), p.Session.Kind))
	}
	if p.Warning != "" && p.Warning != prev.Warning {
		m.log.Add("auth", p.Warning)
	}
	if p.Sub != prev.Sub {
		m.log.Add("sub", p.Sub.String())
	}
	if p.Snapshot != nil && p.Snapshot != prev.Snapshot {
		m.log.Add("sub", fmt.Sprintf("snapshot with %d records", p.Snapshot.Len()))
	}
	if p.DataError != nil && p.DataError != prev.DataError {
		m.log.Add("err", p.DataError.Error())
	}
	if p.FatalError != nil && prev.FatalError == nil {
		m.log.Add("err", p.FatalError.Error())
	}

	m.pres = p
	m.statusBar.Status = p.Status.String()
	m.statusBar.Subject = p.SubjectID()
	m.statusBar.Guest = p.Session != nil && p.Session.Guest()
	m.tree.SetSnapshot(p.Snapshot)
	m.tree.Guest = p.Phase == syncctl.PhaseGuestDegraded
	m.statusBar.Records = m.tree.Len()
	if m.overlay == OverlayDetail && m.tree.Len() == 0 {
		m.overlay = OverlayNone
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			return m, tea.Quit
		case m.overlay == OverlayLog && key.Matches(msg, m.keys.Up):
			m.log.ScrollUp(1)
		case m.overlay == OverlayLog && key.Matches(msg, m.keys.Down):
			m.log.ScrollDown(1)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if m.view == ViewTree {
			m.tree.Next()
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.view == ViewTree {
			m.tree.Prev()
		}
		return m, nil

	case key.Matches(msg, m.keys.Tab):
		m.setView((m.view + 1) % viewCount)
		return m, nil

	case key.Matches(msg, m.keys.Tree):
		m.setView(ViewTree)
		return m, nil

	case key.Matches(msg, m.keys.Search):
		m.setView(ViewSearch)
		return m, nil

	case key.Matches(msg, m.keys.Sources):
		m.setView(ViewSources)
		return m, nil

	case key.Matches(msg, m.keys.Log):
		m.overlay = OverlayLog
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		if r, ok := m.tree.Current(); ok && m.view == ViewTree && Route(m.pres, m.view) == BranchContent {
			var at time.Time
			if m.pres.Snapshot != nil {
				at = m.pres.Snapshot.ReceivedAt
			}
			m.detail = detail.New(&r, at)
			m.overlay = OverlayDetail
		}
		return m, nil

	case key.Matches(msg, m.keys.SignOut):
		if m.src == nil || m.pres.Session == nil {
			return m, nil
		}
		m.log.Add("auth", "signing out")
		return m, m.signOut()
	}

	return m, nil
}

func (m *Model) setView(v View) {
	if v != m.view {
		m.log.Add("nav", "view "+v.String())
	}
	m.view = v
}

func (m Model) signOut() tea.Cmd {
	src, parent := m.src, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, signOutTimeout)
		defer cancel()
		return signOutMsg{err: src.SignOut(ctx)}
	}
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{m.statusBar.View(), m.renderTabs()}
	if m.pres.Warning != "" && m.pres.Status != syncctl.StatusFatal {
		sections = append(sections, theme.StyleWarning.Width(m.width-4).Render("⚠ "+m.pres.Warning))
	}
	sections = append(sections, "", m.renderBody(), "",
		theme.StyleDimmed.Render("  1/2/3:view  tab:cycle  j/k:select  enter:detail  d:log  o:sign out  q:quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTabs() string {
	var tabs []string
	for v := ViewTree; v < viewCount; v++ {
		label := fmt.Sprintf("%d %s", int(v)+1, v.Title())
		if v == m.view {
			tabs = append(tabs, theme.StyleActiveTab.Render(label))
		} else {
			tabs = append(tabs, theme.StyleTab.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderBody() string {
	switch m.overlay {
	case OverlayDetail:
		return m.detail.View()
	case OverlayLog:
		return m.log.View(m.width, m.height-8)
	}

	switch Route(m.pres, m.view) {
	case BranchLoading:
		return "  " + m.spinner.View() + " Connecting to the portal..."
	case BranchFatal:
		return m.renderFatal()
	case BranchDataError:
		return tree.ErrorView(m.pres.DataError, m.pres.SubjectID(), m.pres.RetriesExhausted, m.width)
	}

	switch m.view {
	case ViewSearch:
		return m.search.View()
	case ViewSources:
		return m.sources.View()
	default:
		return m.tree.View()
	}
}

func (m Model) renderFatal() string {
	who := m.pres.SubjectID()
	if who == "" {
		who = "none"
	}
	msg := "unknown error"
	if m.pres.FatalError != nil {
		msg = m.pres.FatalError.Error()
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		theme.StyleHeader.Render("Error"),
		"",
		msg,
		"",
		theme.StyleDimmed.Render("User ID: "+who),
	)
	width := m.width - 4
	if width < 36 {
		width = 36
	}
	return theme.StyleErrorPanel.Width(width).Render(body)
}
