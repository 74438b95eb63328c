package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// ListenConn is one WebSocket connection to /v1/listen carrying a single
// live query.
type ListenConn struct {
	conn *websocket.Conn

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes (ping, subscribe)
	seq     uint64
	stop    context.CancelFunc
	closed  bool
}

// ListenURL converts http://host:port into ws://host:port/v1/listen.
func ListenURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/listen"
	return u.String(), nil
}

// DialListen connects to the backend's listen endpoint and starts the ping
// loop.
func DialListen(ctx context.Context, baseURL string) (*ListenConn, error) {
	wsURL, err := ListenURL(baseURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	pingCtx, cancel := context.WithCancel(context.Background())
	c := &ListenConn{conn: conn, stop: cancel}

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	go c.pingLoop(pingCtx)
	return c, nil
}

// Subscribe sends a subscribe request.
func (c *ListenConn) Subscribe(req SubscribeRequest) error {
	return c.writeJSON(outboundMessage{Type: MsgSubscribe, Payload: req})
}

// Next blocks until the next message arrives or the connection fails.
// Messages that repeat or precede an already seen sequence number are
// dropped.
func (c *ListenConn) Next() (WSMessage, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return WSMessage{}, err
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.mu.Lock()
		stale := msg.Seq != 0 && msg.Seq <= c.seq
		if msg.Seq > c.seq {
			c.seq = msg.Seq
		}
		c.mu.Unlock()
		if stale {
			continue
		}
		return msg, nil
	}
}

// Seq returns the last seen sequence number.
func (c *ListenConn) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close stops the ping loop and closes the connection. Safe to call twice.
func (c *ListenConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.stop()
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *ListenConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// pingLoop sends periodic pings until the context is cancelled or a write
// fails.
func (c *ListenConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
