package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sefarad-mx/portal/internal/authsvc"
	"github.com/sefarad-mx/portal/internal/docstore"
)

const writeTimeout = 10 * time.Second

// ErrTooManyConnections is returned by AddClient when the listener cap is hit.
var ErrTooManyConnections = errors.New("too many connections")

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
	seq  atomic.Uint64

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc // active query, if any
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

var (
	errClientClosed = errors.New("client closed")
	errClientSlow   = errors.New("client send buffer full")
)

func (c *client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errClientSlow
	}
}

// setQuery installs cancel as the active query, cancelling the previous one.
func (c *client) setQuery(cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	return true
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	close(c.send)
}

// Broadcaster owns the connected listeners and runs one live query per
// listener against the document store.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	store    *docstore.Store
	throttle time.Duration
	maxConns int
	maxLimit int
	logger   *slog.Logger
}

func NewBroadcaster(store *docstore.Store, throttle time.Duration, maxConns, maxLimit int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		clients:  make(map[*client]bool),
		store:    store,
		throttle: throttle,
		maxConns: maxConns,
		maxLimit: maxLimit,
		logger:   logger,
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		return nil, ErrTooManyConnections
	}

	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}
	b.clients[c] = true
	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
	}
	b.mu.Unlock()
	c.close()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop disconnects every listener.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[*client]bool)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Subscribe validates p against the rules and starts streaming snapshots of
// the requested window to c. A previous query on c is replaced.
func (b *Broadcaster) Subscribe(c *client, user *authsvc.User, p SubscribePayload) {
	if err := docstore.ValidatePath(p.Path); err != nil {
		b.sendError(c, CodeInvalidArgument, err.Error())
		return
	}
	if p.Limit < 0 {
		b.sendError(c, CodeInvalidArgument, fmt.Sprintf("limit %d must not be negative", p.Limit))
		return
	}
	if err := allowRead(user, p.Path); err != nil {
		b.sendError(c, CodePermissionDenied, err.Error())
		return
	}

	limit := p.Limit
	if limit == 0 || limit > b.maxLimit {
		limit = b.maxLimit
	}
	q := docstore.Query{Path: p.Path, Limit: limit, OrderBy: p.OrderBy}

	ctx, cancel := context.WithCancel(context.Background())
	if !c.setQuery(cancel) {
		cancel()
		return
	}
	go b.serveQuery(ctx, c, q)
}

func (b *Broadcaster) Unsubscribe(c *client) {
	c.setQuery(nil)
}

func (b *Broadcaster) serveQuery(ctx context.Context, c *client, q docstore.Query) {
	changes, stop := b.store.Watch(q.Path)
	defer stop()
	b.logger.Debug("live query attached", "path", q.Path, "watchers", b.store.WatcherCount(q.Path))

	for {
		docs, err := b.store.Run(ctx, q)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.logger.Error("listen query failed", "path", q.Path, "err", err)
			if errors.Is(err, docstore.ErrInvalidSort) {
				b.sendError(c, CodeInvalidArgument, err.Error())
			} else {
				b.sendError(c, CodeUnavailable, "query failed")
			}
			return
		}

		records := make([]Record, 0, len(docs))
		for _, d := range docs {
			records = append(records, Record{ID: d.ID, Fields: d.Fields})
		}
		b.send(c, MsgSnapshot, SnapshotPayload{Path: q.Path, Records: records})

		select {
		case <-ctx.Done():
			return
		case <-changes:
		}

		if b.throttle > 0 {
			timer := time.NewTimer(b.throttle)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (b *Broadcaster) sendError(c *client, code, message string) {
	b.send(c, MsgError, ErrorPayload{Code: code, Message: message})
}

func (b *Broadcaster) send(c *client, typ MessageType, payload interface{}) {
	msg := WSMessage{Type: typ, Seq: c.seq.Add(1), Payload: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("listen marshal error", "err", err)
		return
	}
	if err := c.enqueue(data); errors.Is(err, errClientSlow) {
		// Client can't keep up, disconnect it
		b.logger.Warn("listener too slow, disconnecting")
		b.RemoveClient(c)
	}
}
