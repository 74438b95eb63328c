package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sefarad-mx/portal/internal/authsvc"
	"github.com/sefarad-mx/portal/internal/docstore"
)

const maxBodyBytes = 1 << 20

type Server struct {
	store          *docstore.Store
	auth           *authsvc.Service
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	logger         *slog.Logger
}

func NewServer(store *docstore.Store, auth *authsvc.Service, broadcaster *Broadcaster, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:          store,
		auth:           auth,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		logger:         logger,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/auth/anonymous", s.handleAnonymous).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/custom-token", s.handleCustomToken).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/me", s.handleMe).Methods(http.MethodGet)
	r.HandleFunc("/v1/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/signout", s.handleSignOut).Methods(http.MethodPost)
	r.HandleFunc("/v1/documents", s.handleAddDocument).Methods(http.MethodPost)
	r.HandleFunc("/v1/documents", s.handleListDocuments).Methods(http.MethodGet)
	r.HandleFunc("/v1/documents/{id}", s.handleGetDocument).Methods(http.MethodGet)
	r.HandleFunc("/v1/listen", s.handleListen).Methods(http.MethodGet)
}

// Handler returns the routes wrapped with security headers.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.SetupRoutes(r)
	return securityHeaders(r)
}

func (s *Server) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	u, tok, err := s.auth.SignInAnonymously()
	if err != nil {
		s.logger.Warn("anonymous sign-in rejected", "err", err)
		writeError(w, http.StatusForbidden, "operation-not-allowed", err.Error())
		return
	}
	s.logger.Info("anonymous sign-in", "uid", u.UID)
	writeJSON(w, http.StatusOK, AuthResponse{UID: u.UID, Provider: string(u.Provider), IDToken: tok})
}

func (s *Server) handleCustomToken(w http.ResponseWriter, r *http.Request) {
	var req CustomTokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "invalid request body")
		return
	}
	u, tok, err := s.auth.SignInWithCustomToken(req.Token)
	if err != nil {
		s.logger.Warn("custom token sign-in rejected", "err", err)
		writeError(w, http.StatusUnauthorized, "invalid-custom-token", err.Error())
		return
	}
	s.logger.Info("custom token sign-in", "uid", u.UID)
	writeJSON(w, http.StatusOK, AuthResponse{UID: u.UID, Provider: string(u.Provider), IDToken: tok})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{UID: u.UID, Provider: string(u.Provider)})
}

// handleRefresh trades a valid or recently expired ID token for a new one
// with the same subject.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	tok, ok := bearer(w, r)
	if !ok {
		return
	}
	u, fresh, err := s.auth.Refresh(tok)
	if err != nil {
		s.logger.Debug("token refresh rejected", "err", err)
		writeError(w, http.StatusUnauthorized, authErrorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{UID: u.UID, Provider: string(u.Provider), IDToken: fresh})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.auth.Revoke(u.UID)
	s.logger.Info("signed out", "uid", u.UID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if err := docstore.ValidatePath(path); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, err.Error())
		return
	}
	if err := allowWrite(&u, path); err != nil {
		writeError(w, http.StatusForbidden, CodePermissionDenied, err.Error())
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "body must be a JSON object")
		return
	}
	doc, err := s.store.Add(r.Context(), path, fields)
	if err != nil {
		s.logger.Error("add document failed", "path", path, "err", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "write failed")
		return
	}
	writeJSON(w, http.StatusCreated, Record{ID: doc.ID, Fields: doc.Fields})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if err := docstore.ValidatePath(path); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, err.Error())
		return
	}
	if err := allowRead(&u, path); err != nil {
		writeError(w, http.StatusForbidden, CodePermissionDenied, err.Error())
		return
	}
	docs, err := s.store.Run(r.Context(), docstore.Query{Path: path, Limit: s.broadcaster.maxLimit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "query failed")
		return
	}
	records := make([]Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, Record{ID: d.ID, Fields: d.Fields})
	}
	writeJSON(w, http.StatusOK, SnapshotPayload{Path: path, Records: records})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if err := docstore.ValidatePath(path); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, err.Error())
		return
	}
	if err := allowRead(&u, path); err != nil {
		writeError(w, http.StatusForbidden, CodePermissionDenied, err.Error())
		return
	}
	doc, err := s.store.Get(r.Context(), path, mux.Vars(r)["id"])
	if errors.Is(err, docstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "read failed")
		return
	}
	writeJSON(w, http.StatusOK, Record{ID: doc.ID, Fields: doc.Fields})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"listeners": s.broadcaster.ClientCount(),
	})
}

// handleListen upgrades to a WebSocket. Authentication happens per
// subscription: an unauthenticated subscribe is answered with
// permission-denied rather than a refused upgrade.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade error", "err", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.logger.Warn("ws connection rejected", "remote", r.RemoteAddr, "err", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}
	s.logger.Debug("listener connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Debug("listener disconnected", "remote", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg inboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.broadcaster.sendError(c, CodeInvalidArgument, "malformed message")
				continue
			}
			s.dispatch(c, msg)
		}
	}()
}

func (s *Server) dispatch(c *client, msg inboundMessage) {
	switch msg.Type {
	case MsgSubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.broadcaster.sendError(c, CodeInvalidArgument, "malformed subscribe payload")
			return
		}
		var user *authsvc.User
		if p.Token != "" {
			if u, err := s.auth.Verify(p.Token); err == nil {
				user = &u
			} else {
				s.logger.Debug("listen token rejected", "err", err)
			}
		}
		s.broadcaster.Subscribe(c, user, p)
	case MsgUnsubscribe:
		s.broadcaster.Unsubscribe(c)
	default:
		s.broadcaster.sendError(c, CodeInvalidArgument, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// authenticate verifies the bearer token and writes a 401 on failure.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (authsvc.User, bool) {
	tok, ok := bearer(w, r)
	if !ok {
		return authsvc.User{}, false
	}
	u, err := s.auth.Verify(tok)
	if err != nil {
		writeError(w, http.StatusUnauthorized, authErrorCode(err), err.Error())
		return authsvc.User{}, false
	}
	return u, true
}

func bearer(w http.ResponseWriter, r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "missing bearer token")
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

func authErrorCode(err error) string {
	switch {
	case errors.Is(err, authsvc.ErrRevoked):
		return CodeTokenRevoked
	case errors.Is(err, authsvc.ErrExpired):
		return CodeTokenExpired
	}
	return CodeUnauthenticated
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorPayload{Code: code, Message: message})
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
