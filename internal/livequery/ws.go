package livequery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sefarad-mx/portal/internal/client"
)

// WSTransport runs live queries over the backend's /v1/listen WebSocket,
// one connection per query.
type WSTransport struct {
	baseURL string
	now     func() time.Time
}

func NewWSTransport(baseURL string) *WSTransport {
	return &WSTransport{baseURL: baseURL, now: time.Now}
}

func (t *WSTransport) Listen(ctx context.Context, q Query, idToken string, onSnapshot func(Snapshot)) error {
	conn, err := client.DialListen(ctx, t.baseURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &Error{Code: CodeUnavailable, Message: "could not reach backend", Err: err}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	req := client.SubscribeRequest{Path: q.Path, Limit: q.Limit, OrderBy: q.OrderBy, Token: idToken}
	if err := conn.Subscribe(req); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &Error{Code: CodeUnavailable, Message: "subscribe failed", Err: err}
	}

	for {
		msg, err := conn.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &Error{Code: CodeUnavailable, Message: "connection lost", Err: err}
		}

		switch msg.Type {
		case client.MsgSnapshot:
			var p client.SnapshotPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return &Error{Code: CodeInternal, Message: "malformed snapshot", Err: err}
			}
			snap := toSnapshot(p, t.now())
			snap.Seq = conn.Seq()
			onSnapshot(snap)
		case client.MsgError:
			var p client.ErrorPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return &Error{Code: CodeInternal, Message: "malformed error", Err: err}
			}
			return &Error{Code: Code(p.Code), Message: p.Message}
		default:
			return &Error{Code: CodeInternal, Message: fmt.Sprintf("unexpected message %q", msg.Type)}
		}
	}
}

func toSnapshot(p client.SnapshotPayload, at time.Time) Snapshot {
	records := make([]Record, 0, len(p.Records))
	for _, r := range p.Records {
		fields := r.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		records = append(records, Record{ID: r.ID, Fields: fields})
	}
	return Snapshot{Records: records, ReceivedAt: at}
}
