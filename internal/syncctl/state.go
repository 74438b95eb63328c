// Package syncctl sequences session establishment before the live tree
// subscription and keeps the two consistent as identity and connectivity
// change. All transitions run on the goroutine that calls Run.
package syncctl

import (
	"github.com/sefarad-mx/portal/internal/identity"
	"github.com/sefarad-mx/portal/internal/livequery"
)

// Phase is the controller's top-level state. Fatal is terminal.
type Phase int

const (
	PhaseBooting Phase = iota
	PhaseReady
	PhaseGuestDegraded
	PhaseFatal
)

func (p Phase) String() string {
	switch p {
	case PhaseBooting:
		return "booting"
	case PhaseReady:
		return "ready"
	case PhaseGuestDegraded:
		return "guest-degraded"
	case PhaseFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SubState tracks the tree subscription while a session exists.
type SubState int

const (
	SubNone SubState = iota
	SubSubscribing
	SubLive
)

func (s SubState) String() string {
	switch s {
	case SubNone:
		return "no-subscription"
	case SubSubscribing:
		return "subscribing"
	case SubLive:
		return "live"
	default:
		return "unknown"
	}
}

// Status is the consolidated state shown to the presentation layer.
type Status int

const (
	StatusInitializing Status = iota
	StatusReady
	StatusDegradedGuest
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusDegradedGuest:
		return "degraded-guest"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DeriveStatus maps a phase onto the presentation status. Data errors do not
// change the status; they only affect views that render the snapshot.
func DeriveStatus(p Phase) Status {
	switch p {
	case PhaseReady:
		return StatusReady
	case PhaseGuestDegraded:
		return StatusDegradedGuest
	case PhaseFatal:
		return StatusFatal
	default:
		return StatusInitializing
	}
}

// Presentation is an immutable view of the controller state. Session and
// Snapshot are shared by reference and must not be mutated.
type Presentation struct {
	Status     Status
	Phase      Phase
	Sub        SubState
	Session    *identity.Session
	Warning    string
	DataError  error
	FatalError error
	Snapshot   *livequery.Snapshot
	// RetriesExhausted is set once the subscription gave up after
	// Retry.MaxAttempts; only a new session subscribes again.
	RetriesExhausted bool
}

// SubjectID returns the current subject or "" when there is no session.
func (p Presentation) SubjectID() string {
	if p.Session == nil {
		return ""
	}
	return p.Session.SubjectID
}
