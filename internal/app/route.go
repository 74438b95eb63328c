package app

import "github.com/sefarad-mx/portal/internal/syncctl"

// View is the closed set of top-level screens.
type View int

const (
	ViewTree View = iota
	ViewSearch
	ViewSources
	viewCount
)

func (v View) String() string {
	switch v {
	case ViewTree:
		return "tree"
	case ViewSearch:
		return "search"
	case ViewSources:
		return "sources"
	default:
		return "unknown"
	}
}

// Title is the tab label of a view.
func (v View) Title() string {
	switch v {
	case ViewTree:
		return "Family tree"
	case ViewSearch:
		return "Search"
	case ViewSources:
		return "Sources"
	default:
		return "?"
	}
}

// Branch is what the body of the screen renders.
type Branch int

const (
	BranchLoading Branch = iota
	BranchFatal
	BranchDataError
	BranchContent
)

func (b Branch) String() string {
	switch b {
	case BranchLoading:
		return "loading"
	case BranchFatal:
		return "fatal"
	case BranchDataError:
		return "data-error"
	case BranchContent:
		return "content"
	default:
		return "unknown"
	}
}

// Route picks the rendering branch for a view. Only the tree depends on the
// subscription, so a data error leaves the other views untouched.
func Route(p syncctl.Presentation, v View) Branch {
	switch p.Status {
	case syncctl.StatusFatal:
		return BranchFatal
	case syncctl.StatusInitializing:
		return BranchLoading
	}
	if v == ViewTree && p.DataError != nil {
		return BranchDataError
	}
	return BranchContent
}
