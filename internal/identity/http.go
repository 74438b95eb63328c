package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sefarad-mx/portal/internal/client"
)

// HTTPAuth implements Auth against the backend's /v1/auth routes. The ID
// token lives in memory only.
type HTTPAuth struct {
	api          *client.HTTPClient
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	user    *User
	idToken string // token handed in at startup, verified lazily
	subs    map[chan *User]struct{}
}

// NewHTTPAuth creates the port. idToken, when set, is an existing session
// that CurrentUser verifies. pollInterval > 0 makes Changes poll
// /v1/auth/me: tokens close to expiry are refreshed, and only a session
// revoked elsewhere is reported as signed out.
func NewHTTPAuth(api *client.HTTPClient, idToken string, pollInterval time.Duration, logger *slog.Logger) *HTTPAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAuth{
		api:          api,
		pollInterval: pollInterval,
		logger:       logger,
		idToken:      idToken,
		subs:         make(map[chan *User]struct{}),
	}
}

func (a *HTTPAuth) CurrentUser(ctx context.Context) (*User, error) {
	a.mu.Lock()
	u, token := a.user, a.idToken
	a.mu.Unlock()
	if u != nil {
		return u, nil
	}
	if token == "" {
		return nil, nil
	}

	me, err := a.api.Me(ctx, token)
	if errors.Is(err, client.ErrUnauthorized) && !errors.Is(err, client.ErrTokenRevoked) {
		me, err = a.api.Refresh(ctx, token)
	}
	if errors.Is(err, client.ErrUnauthorized) {
		a.mu.Lock()
		a.idToken = ""
		a.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u = toUser(me)
	a.set(u)
	return u, nil
}

func (a *HTTPAuth) SignInWithCustomToken(ctx context.Context, token string) (*User, error) {
	au, err := a.api.SignInWithCustomToken(ctx, token)
	if err != nil {
		return nil, err
	}
	u := toUser(au)
	a.set(u)
	return u, nil
}

func (a *HTTPAuth) SignInAnonymously(ctx context.Context) (*User, error) {
	au, err := a.api.SignInAnonymously(ctx)
	if err != nil {
		return nil, err
	}
	u := toUser(au)
	a.set(u)
	return u, nil
}

// SignOut revokes the session remotely and reports signed out. A session the
// backend already forgot is not an error.
func (a *HTTPAuth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	u := a.user
	a.mu.Unlock()
	if u == nil {
		return nil
	}
	if err := a.api.SignOut(ctx, u.IDToken); err != nil && !errors.Is(err, client.ErrUnauthorized) {
		return err
	}
	a.set(nil)
	return nil
}

// Changes emits the current state first, then every change. Slow receivers
// only see the latest state.
func (a *HTTPAuth) Changes(ctx context.Context) <-chan *User {
	ch := make(chan *User, 1)
	a.mu.Lock()
	a.subs[ch] = struct{}{}
	ch <- a.user
	a.mu.Unlock()

	go func() {
		var tick <-chan time.Time
		if a.pollInterval > 0 {
			t := time.NewTicker(a.pollInterval)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-ctx.Done():
				a.mu.Lock()
				delete(a.subs, ch)
				close(ch)
				a.mu.Unlock()
				return
			case <-tick:
				a.poll(ctx)
			}
		}
	}()
	return ch
}

func (a *HTTPAuth) poll(ctx context.Context) {
	a.mu.Lock()
	u := a.user
	a.mu.Unlock()
	if u == nil {
		return
	}
	if a.expiresSoon(u.IDToken) {
		a.refresh(ctx, u)
		return
	}
	_, err := a.api.Me(ctx, u.IDToken)
	switch {
	case err == nil:
	case errors.Is(err, client.ErrTokenRevoked):
		a.logger.Warn("session revoked", "uid", u.UID)
		a.replace(u, nil)
	case errors.Is(err, client.ErrUnauthorized):
		a.refresh(ctx, u)
	default:
		a.logger.Debug("session check failed", "err", err)
	}
}

// refresh swaps u's ID token for a new one. Only a refusal from the backend
// ends the session; transport errors are retried on the next poll.
func (a *HTTPAuth) refresh(ctx context.Context, u *User) {
	au, err := a.api.Refresh(ctx, u.IDToken)
	switch {
	case err == nil:
		if a.replace(u, toUser(au)) {
			a.logger.Debug("id token refreshed", "uid", u.UID)
		}
	case errors.Is(err, client.ErrUnauthorized):
		a.logger.Warn("session no longer valid", "uid", u.UID, "err", err)
		a.replace(u, nil)
	default:
		a.logger.Debug("token refresh failed", "err", err)
	}
}

// expiresSoon reports whether the token expires before the poll after next.
// Tokens that cannot be read are left to the backend to judge.
func (a *HTTPAuth) expiresSoon(idToken string) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err != nil || claims.ExpiresAt == nil {
		return false
	}
	return time.Until(claims.ExpiresAt.Time) < 2*a.pollInterval
}

func (a *HTTPAuth) set(u *User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setLocked(u)
}

// replace sets u only if old is still the current user.
func (a *HTTPAuth) replace(old, u *User) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user != old {
		return false
	}
	a.setLocked(u)
	return true
}

func (a *HTTPAuth) setLocked(u *User) {
	a.user = u
	if u != nil {
		a.idToken = u.IDToken
	} else {
		a.idToken = ""
	}
	for ch := range a.subs {
		offer(ch, u)
	}
}

// offer replaces whatever is pending in ch with u.
func offer(ch chan *User, u *User) {
	select {
	case ch <- u:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- u:
	default:
	}
}

func toUser(au *client.AuthUser) *User {
	return &User{UID: au.UID, Provider: au.Provider, IDToken: au.IDToken}
}
