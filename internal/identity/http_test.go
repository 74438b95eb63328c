package identity

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/sefarad-mx/portal/internal/authsvc"
	"github.com/sefarad-mx/portal/internal/client"
	"github.com/sefarad-mx/portal/internal/config"
	"github.com/sefarad-mx/portal/internal/docstore"
	"github.com/sefarad-mx/portal/internal/ws"
)

func startBackend(t *testing.T, cfg config.AuthConfig) (*httptest.Server, *authsvc.Service) {
	t.Helper()
	store, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("docstore.Open: %v", err)
	}
	auth := authsvc.New(cfg)
	b := ws.NewBroadcaster(store, 0, 0, 100, nil)
	srv := httptest.NewServer(ws.NewServer(store, auth, b, nil, nil).Handler())
	t.Cleanup(func() {
		b.Stop()
		srv.Close()
		store.Close()
	})
	return srv, auth
}

func TestHTTPAuthAnonymousThenAdopt(t *testing.T) {
	srv, _ := startBackend(t, config.Default().Auth)
	ctx := context.Background()

	first := New(NewHTTPAuth(client.NewHTTPClient(srv.URL), "", 0, nil))
	s, warning, err := first.Establish(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "", warning)
	assert.Equal(t, KindAnonymous, s.Kind)
	assert.NotEqual(t, "", s.IDToken)

	// A second process handed the same ID token adopts the session.
	second := New(NewHTTPAuth(client.NewHTTPClient(srv.URL), s.IDToken, 0, nil))
	adopted, _, err := second.Establish(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, s.SubjectID, adopted.SubjectID)
	assert.Equal(t, KindAnonymous, adopted.Kind)
}

func TestHTTPAuthCustomToken(t *testing.T) {
	srv, auth := startBackend(t, config.Default().Auth)
	token, err := auth.MintCustomToken("researcher-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	c := New(NewHTTPAuth(client.NewHTTPClient(srv.URL), "", 0, nil))
	s, warning, err := c.Establish(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "", warning)
	assert.Equal(t, "researcher-1", s.SubjectID)
	assert.Equal(t, KindToken, s.Kind)
}

func TestHTTPAuthDisabledFallsBackToGuest(t *testing.T) {
	cfg := config.Default().Auth
	cfg.AnonymousEnabled = false
	srv, _ := startBackend(t, cfg)

	c := New(NewHTTPAuth(client.NewHTTPClient(srv.URL), "", 0, nil))
	s, warning, err := c.Establish(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, GuestWarning, warning)
	assert.Equal(t, KindGuest, s.Kind)
}

func TestHTTPAuthStaleTokenIsIgnored(t *testing.T) {
	srv, _ := startBackend(t, config.Default().Auth)

	c := New(NewHTTPAuth(client.NewHTTPClient(srv.URL), "not-a-jwt", 0, nil))
	s, _, err := c.Establish(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, KindAnonymous, s.Kind)
}

func TestHTTPAuthChangesReportSignOut(t *testing.T) {
	srv, _ := startBackend(t, config.Default().Auth)
	ha := NewHTTPAuth(client.NewHTTPClient(srv.URL), "", 0, nil)
	c := New(ha)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, err := c.Establish(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	events := c.Watch(ctx)

	ev := <-events
	assert.Equal(t, s.SubjectID, ev.Session.SubjectID)

	if err := c.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-events:
		assert.Equal(t, true, ev.Session == nil)
	case <-time.After(time.Second):
		t.Fatal("sign-out not reported")
	}
}

func TestHTTPAuthPollDetectsRevocation(t *testing.T) {
	srv, auth := startBackend(t, config.Default().Auth)
	ha := NewHTTPAuth(client.NewHTTPClient(srv.URL), "", 20*time.Millisecond, nil)
	c := New(ha)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, err := c.Establish(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	events := c.Watch(ctx)
	<-events

	auth.Revoke(s.SubjectID)

	select {
	case ev := <-events:
		assert.Equal(t, true, ev.Session == nil)
	case <-time.After(2 * time.Second):
		t.Fatal("revocation not detected by polling")
	}
}

func TestHTTPAuthPollRefreshesExpiredToken(t *testing.T) {
	cfg := config.Default().Auth
	cfg.TokenTTL = time.Second
	srv, _ := startBackend(t, cfg)
	ha := NewHTTPAuth(client.NewHTTPClient(srv.URL), "", 50*time.Millisecond, nil)
	c := New(ha)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, err := c.Establish(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	events := c.Watch(ctx)
	<-events

	deadline := time.After(1600 * time.Millisecond)
	refreshed := false
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Session == nil {
				t.Fatal("token expiry reported as sign-out")
			}
			assert.Equal(t, s.SubjectID, ev.Session.SubjectID)
			if ev.Session.IDToken != s.IDToken {
				refreshed = true
			}
		case <-deadline:
			done = true
		}
	}
	assert.Equal(t, true, refreshed)

	u, err := ha.CurrentUser(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, s.SubjectID, u.UID)
}

func TestHTTPAuthAdoptsExpiredToken(t *testing.T) {
	srv, _ := startBackend(t, config.Default().Auth)

	// Same secrets, negative lifetime: the token is born expired.
	cfg := config.Default().Auth
	cfg.TokenTTL = -time.Minute
	u, expired, err := authsvc.New(cfg).SignInAnonymously()
	if err != nil {
		t.Fatal(err)
	}

	c := New(NewHTTPAuth(client.NewHTTPClient(srv.URL), expired, 0, nil))
	s, _, err := c.Establish(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, u.UID, s.SubjectID)
	assert.NotEqual(t, expired, s.IDToken)
}
