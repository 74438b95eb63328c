package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

func TestListenURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/v1/listen", false},
		{"http://127.0.0.1:8080/", "ws://127.0.0.1:8080/v1/listen", false},
		{"https://api.example.org/base", "wss://api.example.org/base/v1/listen", false},
		{"ws://localhost:9000", "ws://localhost:9000/v1/listen", false},
		{"ftp://nope", "", true},
	}
	for _, tt := range tests {
		got, err := ListenURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ListenURL(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ListenURL(%q) error: %v", tt.in, err)
			continue
		}
		assert.Equal(t, tt.want, got)
	}
}

func TestHTTPClientSignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/anonymous":
			json.NewEncoder(w).Encode(AuthUser{UID: "anon-1", Provider: "anonymous", IDToken: "tok-1"})
		case "/v1/auth/custom-token":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["token"] != "good" {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(ErrorPayload{Code: "invalid-custom-token", Message: "bad token"})
				return
			}
			json.NewEncoder(w).Encode(AuthUser{UID: "alice", Provider: "custom", IDToken: "tok-2"})
		case "/v1/auth/me":
			if r.Header.Get("Authorization") != "Bearer tok-2" {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(ErrorPayload{Code: "unauthenticated", Message: "no session"})
				return
			}
			json.NewEncoder(w).Encode(AuthUser{UID: "alice", Provider: "custom"})
		case "/v1/auth/signout":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/")
	assert.Equal(t, srv.URL, c.BaseURL())
	ctx := context.Background()

	anon, err := c.SignInAnonymously(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "anon-1", anon.UID)
	assert.Equal(t, "tok-1", anon.IDToken)

	_, err = c.SignInWithCustomToken(ctx, "bad")
	assert.Equal(t, true, errors.Is(err, ErrUnauthorized))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	assert.Equal(t, "invalid-custom-token", apiErr.Code)

	user, err := c.SignInWithCustomToken(ctx, "good")
	if err != nil {
		t.Fatal(err)
	}
	me, err := c.Me(ctx, user.IDToken)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "alice", me.UID)
	assert.Equal(t, "tok-2", me.IDToken)

	_, err = c.Me(ctx, "stale")
	assert.Equal(t, true, errors.Is(err, ErrUnauthorized))

	assert.Equal(t, nil, c.SignOut(ctx, user.IDToken))
}

func TestAPIErrorPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).AddDocument(context.Background(), "tok", "a/b/c", map[string]any{"name": "x"})
	assert.Equal(t, true, errors.Is(err, ErrForbidden))
	assert.Equal(t, false, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, true, strings.Contains(err.Error(), "nope"))
}

func TestHTTPClientRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/refresh" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer expired":
			json.NewEncoder(w).Encode(AuthUser{UID: "alice", Provider: "custom", IDToken: "fresh"})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(ErrorPayload{Code: CodeTokenRevoked, Message: "id token revoked"})
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	ctx := context.Background()

	user, err := c.Refresh(ctx, "expired")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "alice", user.UID)
	assert.Equal(t, "fresh", user.IDToken)

	_, err = c.Refresh(ctx, "revoked")
	assert.Equal(t, true, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, true, errors.Is(err, ErrTokenRevoked))
}

func TestAPIErrorRevokedOnlyOnCode(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want bool
	}{
		{"revoked", &APIError{Status: http.StatusUnauthorized, Code: CodeTokenRevoked}, true},
		{"expired", &APIError{Status: http.StatusUnauthorized, Code: "id-token-expired"}, false},
		{"no code", &APIError{Status: http.StatusUnauthorized}, false},
		{"forbidden", &APIError{Status: http.StatusForbidden, Code: CodeTokenRevoked}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, ErrTokenRevoked))
		})
	}
}

func TestListenConnRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/listen" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var in struct {
			Type    MessageType      `json:"type"`
			Payload SubscribeRequest `json:"payload"`
		}
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteJSON(map[string]any{
			"type": MsgSnapshot,
			"seq":  7,
			"payload": SnapshotPayload{Path: in.Payload.Path, Records: []Record{
				{ID: "a", Fields: map[string]any{"name": in.Payload.Token}},
			}},
		})
		// A replay and an older message are dropped by the reader.
		for _, seq := range []int{7, 5, 8} {
			conn.WriteJSON(map[string]any{
				"type":    MsgSnapshot,
				"seq":     seq,
				"payload": SnapshotPayload{Path: in.Payload.Path},
			})
		}
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := DialListen(ctx, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.Subscribe(SubscribeRequest{Path: "artifacts/x/public/data/y", Limit: 5, Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	msg, err := conn.Next()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, MsgSnapshot, msg.Type)
	assert.Equal(t, uint64(7), conn.Seq())

	var p SnapshotPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "artifacts/x/public/data/y", p.Path)
	assert.Equal(t, "tok", p.Records[0].Fields["name"])

	msg, err = conn.Next()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, uint64(8), msg.Seq)
	assert.Equal(t, uint64(8), conn.Seq())

	assert.Equal(t, nil, conn.Close())
	assert.Equal(t, nil, conn.Close())
}
