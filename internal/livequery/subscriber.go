package livequery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Transport runs one live query until ctx is cancelled or the query fails.
// It returns nil after cancellation and a (preferably *Error) failure
// otherwise.
type Transport interface {
	Listen(ctx context.Context, q Query, idToken string, onSnapshot func(Snapshot)) error
}

// Unsubscribe stops delivery and releases the transport. Once it returns no
// callback is running and none will start, so callbacks must not call it
// themselves. Calling it more than once is a no-op.
type Unsubscribe func()

type Subscriber struct {
	transport     Transport
	logger        *slog.Logger
	attachTimeout time.Duration
	now           func() time.Time
}

type Option func(*Subscriber)

func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) { s.logger = l }
}

// WithAttachTimeout fails a subscription with CodeDeadlineExceeded when the
// backend answers neither with a snapshot nor with an error within d.
func WithAttachTimeout(d time.Duration) Option {
	return func(s *Subscriber) { s.attachTimeout = d }
}

func NewSubscriber(t Transport, opts ...Option) *Subscriber {
	s := &Subscriber{
		transport: t,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe starts q and returns its disposer. Snapshots are truncated to
// q.Limit. Permission-denied failures are logged and swallowed; every other
// failure reaches onError exactly once, after which the subscription is dead.
func (s *Subscriber) Subscribe(ctx context.Context, q Query, idToken string, onSnapshot func(Snapshot), onError func(error)) Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)

	// deliver is held for the duration of every callback and by the
	// disposer while it marks the subscription stopped.
	var (
		deliver sync.Mutex
		stopped bool
		failed  bool
	)
	answered := make(chan struct{})
	var answerOnce sync.Once
	markAnswered := func() { answerOnce.Do(func() { close(answered) }) }

	fail := func(err error) {
		deliver.Lock()
		defer deliver.Unlock()
		if stopped || failed {
			return
		}
		failed = true
		onError(err)
	}

	s.logger.Debug("subscribing", "path", q.Path, "limit", q.Limit)

	go func() {
		err := s.transport.Listen(ctx, q, idToken, func(snap Snapshot) {
			markAnswered()
			if q.Limit > 0 && len(snap.Records) > q.Limit {
				snap.Records = snap.Records[:q.Limit]
			}
			if snap.ReceivedAt.IsZero() {
				snap.ReceivedAt = s.now()
			}

			deliver.Lock()
			defer deliver.Unlock()
			if stopped || failed {
				return
			}
			s.logger.Debug("snapshot received", "path", q.Path, "records", len(snap.Records), "seq", snap.Seq)
			onSnapshot(snap)
		})
		markAnswered()
		if err == nil || ctx.Err() != nil {
			return
		}
		if IsPermissionDenied(err) {
			s.logger.Warn("permission denied on live query; the collection may not exist yet or security rules need adjusting",
				"path", q.Path, "err", err)
			return
		}
		s.logger.Error("live query failed", "path", q.Path, "err", err)
		fail(err)
	}()

	if s.attachTimeout > 0 {
		go func() {
			timer := time.NewTimer(s.attachTimeout)
			defer timer.Stop()
			select {
			case <-answered:
			case <-ctx.Done():
			case <-timer.C:
				s.logger.Error("live query attach timed out", "path", q.Path, "timeout", s.attachTimeout)
				fail(&Error{Code: CodeDeadlineExceeded, Message: "no response from backend within " + s.attachTimeout.String()})
				cancel()
			}
		}()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			deliver.Lock()
			stopped = true
			deliver.Unlock()
			s.logger.Debug("unsubscribed", "path", q.Path)
		})
	}
}
