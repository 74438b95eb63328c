package ws

import "encoding/json"

type MessageType string

const (
	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"
	MsgSnapshot    MessageType = "snapshot"
	MsgError       MessageType = "error"
)

// Error codes sent in ErrorPayload.Code.
const (
	CodePermissionDenied = "permission-denied"
	CodeInvalidArgument  = "invalid-argument"
	CodeUnauthenticated  = "unauthenticated"
	CodeUnavailable      = "unavailable"
	CodeNotFound         = "not-found"
	CodeInternal         = "internal"
	CodeTokenExpired     = "id-token-expired"
	CodeTokenRevoked     = "user-token-revoked"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq,omitempty"`
	Payload interface{} `json:"payload"`
}

// inboundMessage is what listeners send to the server.
type inboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type SubscribePayload struct {
	Path    string `json:"path"`
	Limit   int    `json:"limit"`
	OrderBy string `json:"orderBy,omitempty"`
	Token   string `json:"token,omitempty"`
}

type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type SnapshotPayload struct {
	Path    string   `json:"path"`
	Records []Record `json:"records"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthResponse is returned by the sign-in routes and /v1/auth/me.
type AuthResponse struct {
	UID      string `json:"uid"`
	Provider string `json:"provider"`
	IDToken  string `json:"idToken,omitempty"`
}

type CustomTokenRequest struct {
	Token string `json:"token"`
}
