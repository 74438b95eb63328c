// Package identity resolves the session the portal runs under: an existing
// backend session, a bootstrap custom-token sign-in, an anonymous sign-in or,
// when the auth service cannot be reached, a local guest identity.
package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// GuestWarning is shown while the portal runs on a guest-fallback session.
const GuestWarning = "could not establish a full session; operating as guest"

const guestPrefix = "guest-"

// Kind is how a session was obtained.
type Kind int

const (
	KindAnonymous Kind = iota + 1
	KindToken
	KindGuest
)

func (k Kind) String() string {
	switch k {
	case KindAnonymous:
		return "anonymous"
	case KindToken:
		return "token"
	case KindGuest:
		return "guest"
	default:
		return "unknown"
	}
}

// User is a signed-in principal as reported by the auth service.
type User struct {
	UID      string
	Provider string
	IDToken  string
}

// Session is the identity the portal operates under. A guest session has no
// IDToken and is unknown to the backend.
type Session struct {
	SubjectID     string
	Kind          Kind
	EstablishedAt time.Time
	IDToken       string
}

func (s Session) Guest() bool { return s.Kind == KindGuest }

// Auth is the port onto the remote auth service.
type Auth interface {
	// CurrentUser returns the already signed-in user, or nil when there is
	// no session.
	CurrentUser(ctx context.Context) (*User, error)
	SignInWithCustomToken(ctx context.Context, token string) (*User, error)
	SignInAnonymously(ctx context.Context) (*User, error)
	SignOut(ctx context.Context) error
	// Changes streams auth state; nil means signed out. The channel closes
	// when ctx ends.
	Changes(ctx context.Context) <-chan *User
}

// Event is an identity change. A nil Session means the session was lost.
type Event struct {
	Session *Session
}

type Client struct {
	auth        Auth
	logger      *slog.Logger
	authTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAuthTimeout bounds each Establish. Running out of time counts as an
// auth-service failure.
func WithAuthTimeout(d time.Duration) Option {
	return func(c *Client) { c.authTimeout = d }
}

// WithClock overrides the session timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(auth Auth, opts ...Option) *Client {
	c := &Client{
		auth:   auth,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Establish resolves a session. An existing user is adopted as is; otherwise
// bootstrapToken (when set) or an anonymous sign-in is used. Auth failures
// degrade to a guest session plus GuestWarning; the returned error is only
// ever the context's.
func (c *Client) Establish(ctx context.Context, bootstrapToken string) (Session, string, error) {
	actx := ctx
	if c.authTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.authTimeout)
		defer cancel()
	}

	u, err := c.auth.CurrentUser(actx)
	if ctx.Err() != nil {
		return Session{}, "", ctx.Err()
	}
	if err != nil {
		c.logger.Debug("current user lookup failed", "err", err)
	}
	if u != nil {
		c.logger.Info("session adopted", "uid", u.UID, "provider", u.Provider)
		return c.sessionFor(u), "", nil
	}

	if bootstrapToken != "" {
		u, err = c.auth.SignInWithCustomToken(actx, bootstrapToken)
	} else {
		u, err = c.auth.SignInAnonymously(actx)
	}
	if ctx.Err() != nil {
		return Session{}, "", ctx.Err()
	}
	if err != nil || u == nil {
		s := Session{SubjectID: guestPrefix + c.newID(), Kind: KindGuest, EstablishedAt: c.now()}
		c.logger.Error("sign-in failed, falling back to guest", "err", err, "guest", s.SubjectID)
		return s, GuestWarning, nil
	}

	s := c.sessionFor(u)
	c.logger.Info("signed in", "uid", s.SubjectID, "kind", s.Kind)
	return s, "", nil
}

// Watch converts auth changes into events, collapsing consecutive duplicates.
// A refreshed ID token for the same subject is a change.
func (c *Client) Watch(ctx context.Context) <-chan Event {
	out := make(chan Event)
	in := c.auth.Changes(ctx)
	go func() {
		defer close(out)
		first := true
		var last watchKey
		for {
			var u *User
			var ok bool
			select {
			case <-ctx.Done():
				return
			case u, ok = <-in:
				if !ok {
					return
				}
			}

			var key watchKey
			if u != nil {
				key = watchKey{uid: u.UID, token: u.IDToken}
			}
			if !first && key == last {
				continue
			}
			first = false
			last = key

			var ev Event
			if u != nil {
				s := c.sessionFor(u)
				ev.Session = &s
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type watchKey struct {
	uid   string
	token string
}

func (c *Client) SignOut(ctx context.Context) error {
	return c.auth.SignOut(ctx)
}

func (c *Client) sessionFor(u *User) Session {
	return Session{
		SubjectID:     u.UID,
		Kind:          kindOf(u.Provider),
		EstablishedAt: c.now(),
		IDToken:       u.IDToken,
	}
}

func kindOf(provider string) Kind {
	if provider == "anonymous" {
		return KindAnonymous
	}
	return KindToken
}
