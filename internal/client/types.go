// Package client provides the HTTP and WebSocket clients for the document
// backend. Types mirror the backend wire protocol without importing backend
// packages.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"
	MsgSnapshot    MessageType = "snapshot"
	MsgError       MessageType = "error"
)

// WSMessage is the envelope for all WebSocket messages.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// SubscribeRequest opens a live query on the connection.
type SubscribeRequest struct {
	Path    string `json:"path"`
	Limit   int    `json:"limit"`
	OrderBy string `json:"orderBy,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Record is one document as delivered by the backend.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// SnapshotPayload carries the full result window of a live query.
type SnapshotPayload struct {
	Path    string   `json:"path"`
	Records []Record `json:"records"`
}

// ErrorPayload is sent by the backend for rejected or failed queries.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthUser is returned by the sign-in routes.
type AuthUser struct {
	UID      string `json:"uid"`
	Provider string `json:"provider"`
	IDToken  string `json:"idToken,omitempty"`
}

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	// ErrTokenRevoked is the subset of ErrUnauthorized that no refresh can
	// recover from.
	ErrTokenRevoked = errors.New("token revoked")
)

// CodeTokenRevoked qualifies a 401 for a session that was signed out.
const CodeTokenRevoked = "user-token-revoked"

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrTokenRevoked:
		return e.Status == http.StatusUnauthorized && e.Code == CodeTokenRevoked
	}
	return false
}
