package syncctl

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sefarad-mx/portal/internal/config"
	"github.com/sefarad-mx/portal/internal/identity"
	"github.com/sefarad-mx/portal/internal/livequery"
)

// Identity is the part of identity.Client the controller drives.
type Identity interface {
	Establish(ctx context.Context, bootstrapToken string) (identity.Session, string, error)
	Watch(ctx context.Context) <-chan identity.Event
	SignOut(ctx context.Context) error
}

// Subscriber is the part of livequery.Subscriber the controller drives.
type Subscriber interface {
	Subscribe(ctx context.Context, q livequery.Query, idToken string, onSnapshot func(livequery.Snapshot), onError func(error)) livequery.Unsubscribe
}

type establishedEvent struct {
	gen     uint64
	session identity.Session
	warning string
	err     error
}

type identityEvent struct{ ev identity.Event }

type snapshotEvent struct {
	gen  uint64
	snap livequery.Snapshot
}

type subErrorEvent struct {
	gen uint64
	err error
}

type retryEvent struct{ gen uint64 }

type signedOutEvent struct{}

type Controller struct {
	cfg        config.Client
	identity   Identity
	subscriber Subscriber
	logger     *slog.Logger
	jitter     func(n int64) int64

	events  chan any
	done    chan struct{}
	updates chan Presentation

	// loop-owned state
	phase    Phase
	sub      SubState
	session  *identity.Session
	warning  string
	dataErr  error
	fatalErr error
	snapshot *livequery.Snapshot
	authGen  uint64
	subGen   uint64
	attempts  int
	exhausted bool
	watching  bool

	// handles, shared with Dispose
	hmu         sync.Mutex
	disposed    bool
	runCancel   context.CancelFunc
	unsub       livequery.Unsubscribe
	watchCancel context.CancelFunc
	retry       *time.Timer

	cmu     sync.Mutex
	current Presentation
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithJitter replaces the random source used to spread retries. fn returns a
// value in [0, n).
func WithJitter(fn func(n int64) int64) Option {
	return func(c *Controller) { c.jitter = fn }
}

func New(cfg config.Client, id Identity, sub Subscriber, opts ...Option) *Controller {
	c := &Controller{
		cfg:        cfg,
		identity:   id,
		subscriber: sub,
		logger:     slog.Default(),
		jitter:     rand.Int64N,
		events:     make(chan any, 16),
		done:       make(chan struct{}),
		updates:    make(chan Presentation, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current = c.presentation()
	return c
}

// Updates delivers the latest Presentation after every transition. Slow
// readers only see the most recent value.
func (c *Controller) Updates() <-chan Presentation {
	return c.updates
}

func (c *Controller) Current() Presentation {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	return c.current
}

// Run processes events until ctx ends or Dispose is called. It disposes the
// controller on return.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.hmu.Lock()
	if c.disposed {
		c.hmu.Unlock()
		cancel()
		return nil
	}
	c.runCancel = cancel
	c.hmu.Unlock()
	defer c.Dispose()

	c.boot(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// SignOut ends the current session. The identity watch reports the loss and
// the controller re-establishes a session the same way it did at startup. A
// guest session has nothing to revoke and restarts directly.
func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.identity.SignOut(ctx); err != nil {
		return err
	}
	c.post(signedOutEvent{})
	return nil
}

// Dispose releases the subscription, then the identity listener, and stops
// any pending retry. Safe to call any number of times.
func (c *Controller) Dispose() {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	close(c.done)

	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.runCancel != nil {
		c.runCancel()
	}
	c.logger.Debug("controller disposed")
}

func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) postUnless(stop <-chan struct{}, ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	case <-stop:
	}
}

func (c *Controller) boot(ctx context.Context) {
	if err := c.cfg.Validate(); err != nil {
		c.phase = PhaseFatal
		c.fatalErr = err
		c.logger.Error("cannot start", "err", err)
		c.publish()
		return
	}
	c.establish(ctx)
}

func (c *Controller) establish(ctx context.Context) {
	c.phase = PhaseBooting
	c.authGen++
	gen := c.authGen
	token := c.cfg.BootstrapToken
	c.publish()

	go func() {
		s, warning, err := c.identity.Establish(ctx, token)
		c.post(establishedEvent{gen: gen, session: s, warning: warning, err: err})
	}()
}

func (c *Controller) handle(ctx context.Context, ev any) {
	if c.phase == PhaseFatal {
		return
	}
	switch ev := ev.(type) {
	case establishedEvent:
		c.onEstablished(ctx, ev)
	case identityEvent:
		c.onIdentity(ctx, ev.ev)
	case signedOutEvent:
		if c.phase == PhaseGuestDegraded && c.session != nil {
			c.logger.Info("guest session ended", "subject", c.session.SubjectID)
			c.loseSession(ctx)
		}
	case snapshotEvent:
		if ev.gen != c.subGen || c.sub == SubNone {
			return
		}
		if c.sub != SubLive {
			c.logger.Info("subscription live", "records", ev.snap.Len())
		}
		snap := ev.snap
		c.sub = SubLive
		c.snapshot = &snap
		c.dataErr = nil
		c.attempts = 0
		c.exhausted = false
		c.publish()
	case subErrorEvent:
		if ev.gen != c.subGen || c.sub == SubNone {
			return
		}
		c.disposeSubscription()
		c.dataErr = ev.err
		c.logger.Error("subscription failed", "err", ev.err, "code", livequery.CodeOf(ev.err))
		c.scheduleRetry()
		c.publish()
	case retryEvent:
		if ev.gen != c.subGen || c.sub != SubNone {
			return
		}
		c.subscribe(ctx)
	}
}

func (c *Controller) onEstablished(ctx context.Context, ev establishedEvent) {
	if ev.gen != c.authGen || c.phase != PhaseBooting {
		return
	}
	if ev.err != nil {
		c.logger.Debug("establish abandoned", "err", ev.err)
		return
	}

	s := ev.session
	c.session = &s
	c.warning = ev.warning
	if s.Guest() {
		c.phase = PhaseGuestDegraded
		c.logger.Warn("running as guest", "subject", s.SubjectID)
	} else {
		c.phase = PhaseReady
		c.logger.Info("session ready", "subject", s.SubjectID, "kind", s.Kind)
	}
	c.watch(ctx)
	c.subscribe(ctx)
}

func (c *Controller) onIdentity(ctx context.Context, ev identity.Event) {
	if c.phase == PhaseBooting || c.session == nil {
		return
	}
	if ev.Session == nil {
		if c.session.Guest() {
			return
		}
		c.logger.Info("session lost", "subject", c.session.SubjectID)
		c.loseSession(ctx)
		return
	}
	if ev.Session.SubjectID == c.session.SubjectID {
		// Same subject with a refreshed ID token: the live query keeps its
		// connection, later attaches use the new token.
		if ev.Session.IDToken != c.session.IDToken {
			s := *c.session
			s.IDToken = ev.Session.IDToken
			c.session = &s
			c.logger.Debug("id token refreshed", "subject", s.SubjectID)
			c.publish()
		}
		return
	}

	c.logger.Info("session replaced", "from", c.session.SubjectID, "to", ev.Session.SubjectID)
	c.disposeSubscription()
	s := *ev.Session
	c.session = &s
	c.warning = ""
	c.phase = PhaseReady
	if s.Guest() {
		c.phase = PhaseGuestDegraded
	}
	c.snapshot = nil
	c.dataErr = nil
	c.attempts = 0
	c.exhausted = false
	c.subscribe(ctx)
}

// loseSession tears the subscription down before starting over.
func (c *Controller) loseSession(ctx context.Context) {
	c.disposeSubscription()
	c.session = nil
	c.warning = ""
	c.snapshot = nil
	c.dataErr = nil
	c.attempts = 0
	c.exhausted = false
	c.establish(ctx)
}

func (c *Controller) watch(ctx context.Context) {
	if c.watching {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	c.hmu.Lock()
	if c.disposed {
		c.hmu.Unlock()
		cancel()
		return
	}
	c.watchCancel = cancel
	c.hmu.Unlock()
	c.watching = true

	events := c.identity.Watch(wctx)
	go func() {
		for ev := range events {
			c.post(identityEvent{ev: ev})
		}
	}()
}

func (c *Controller) subscribe(ctx context.Context) {
	if c.phase != PhaseReady && c.phase != PhaseGuestDegraded {
		return
	}
	if c.sub != SubNone {
		return
	}

	c.subGen++
	gen := c.subGen
	q := livequery.TreeQuery(c.cfg.AppID)

	c.hmu.Lock()
	if c.disposed {
		c.hmu.Unlock()
		return
	}
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	// The subscriber waits for in-flight callbacks when disposed; stop
	// releases a callback blocked on a full event queue first.
	stop := make(chan struct{})
	unsub := c.subscriber.Subscribe(ctx, q, c.session.IDToken,
		func(snap livequery.Snapshot) { c.postUnless(stop, snapshotEvent{gen: gen, snap: snap}) },
		func(err error) { c.postUnless(stop, subErrorEvent{gen: gen, err: err}) })
	var once sync.Once
	c.unsub = func() {
		once.Do(func() { close(stop) })
		unsub()
	}
	c.hmu.Unlock()

	c.sub = SubSubscribing
	c.logger.Debug("subscribing", "path", q.Path, "limit", q.Limit, "attempt", c.attempts)
	c.publish()
}

// disposeSubscription releases the current handle and invalidates callbacks
// and retries that belong to it.
func (c *Controller) disposeSubscription() {
	c.subGen++
	c.sub = SubNone

	c.hmu.Lock()
	defer c.hmu.Unlock()
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Controller) scheduleRetry() {
	c.attempts++
	limit := c.cfg.Retry.MaxAttempts
	if limit > 0 && c.attempts > limit {
		c.logger.Warn("giving up on subscription", "attempts", c.attempts-1)
		c.exhausted = true
		return
	}
	delay := backoff(c.cfg.Retry.BaseDelay, c.cfg.Retry.MaxDelay, c.attempts, c.jitter)
	gen := c.subGen

	c.hmu.Lock()
	defer c.hmu.Unlock()
	if c.disposed {
		return
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(delay, func() { c.post(retryEvent{gen: gen}) })
	c.logger.Info("retrying subscription", "in", delay, "attempt", c.attempts)
}

// backoff returns base*2^(attempt-1) capped at ceiling, then keeps a random
// amount between half and all of it.
func backoff(base, ceiling time.Duration, attempt int, jitter func(int64) int64) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if ceiling < base {
		ceiling = base
	}
	d := base
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	half := int64(d) / 2
	if half <= 0 {
		return d
	}
	return time.Duration(half + jitter(half+1))
}

func (c *Controller) presentation() Presentation {
	return Presentation{
		Status:     DeriveStatus(c.phase),
		Phase:      c.phase,
		Sub:        c.sub,
		Session:    c.session,
		Warning:    c.warning,
		DataError:  c.dataErr,
		FatalError: c.fatalErr,
		Snapshot:   c.snapshot,

		RetriesExhausted: c.exhausted,
	}
}

func (c *Controller) publish() {
	p := c.presentation()
	c.cmu.Lock()
	c.current = p
	c.cmu.Unlock()

	select {
	case c.updates <- p:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- p:
	default:
	}
}
