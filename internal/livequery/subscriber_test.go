package livequery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type fakeTransport struct {
	snaps     chan Snapshot
	errs      chan error
	cancelled chan struct{}
	block     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		snaps:     make(chan Snapshot, 8),
		errs:      make(chan error, 1),
		cancelled: make(chan struct{}),
	}
}

func (f *fakeTransport) Listen(ctx context.Context, q Query, idToken string, onSnapshot func(Snapshot)) error {
	for {
		select {
		case <-ctx.Done():
			close(f.cancelled)
			return nil
		case s := <-f.snaps:
			if !f.block {
				onSnapshot(s)
			}
		case err := <-f.errs:
			return err
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func records(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{ID: fmt.Sprintf("doc-%d", i), Fields: map[string]any{"name": fmt.Sprintf("Persona %d", i)}}
	}
	return out
}

func TestCollectionPath(t *testing.T) {
	assert.Equal(t, "artifacts/sefarad-mx-default-id/public/data/family_tree_entries", CollectionPath("sefarad-mx-default-id"))

	q := TreeQuery("tenant")
	assert.Equal(t, "artifacts/tenant/public/data/family_tree_entries", q.Path)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, "", q.OrderBy)
}

func TestRecordName(t *testing.T) {
	assert.Equal(t, "Abravanel", Record{Fields: map[string]any{"name": "Abravanel"}}.Name())
	assert.Equal(t, "", Record{Fields: map[string]any{"name": 42}}.Name())
	assert.Equal(t, "", Record{}.Name())
}

func TestErrorClassification(t *testing.T) {
	pd := &Error{Code: CodePermissionDenied, Message: "missing or insufficient permissions"}
	wrapped := fmt.Errorf("listen: %w", pd)

	assert.Equal(t, true, IsPermissionDenied(pd))
	assert.Equal(t, true, IsPermissionDenied(wrapped))
	assert.Equal(t, false, IsPermissionDenied(&Error{Code: CodeUnavailable}))
	assert.Equal(t, false, IsPermissionDenied(nil))
	assert.Equal(t, CodeUnavailable, CodeOf(errors.New("boom")))
	assert.Equal(t, "permission-denied: missing or insufficient permissions", pd.Error())
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	ft := newFakeTransport()
	s := NewSubscriber(ft)

	got := make(chan Snapshot, 1)
	unsub := s.Subscribe(context.Background(), TreeQuery("app"), "tok",
		func(snap Snapshot) { got <- snap },
		func(err error) { t.Errorf("unexpected error: %v", err) })
	defer unsub()

	ft.snaps <- Snapshot{Records: records(5)}

	select {
	case snap := <-got:
		assert.Equal(t, 5, snap.Len())
		for i, r := range snap.Records {
			assert.Equal(t, fmt.Sprintf("doc-%d", i), r.ID)
		}
		assert.Equal(t, false, snap.ReceivedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestSubscribeTruncatesToLimit(t *testing.T) {
	ft := newFakeTransport()
	s := NewSubscriber(ft)

	got := make(chan Snapshot, 1)
	unsub := s.Subscribe(context.Background(), TreeQuery("app"), "tok",
		func(snap Snapshot) { got <- snap }, func(error) {})
	defer unsub()

	ft.snaps <- Snapshot{Records: records(9)}
	snap := <-got
	assert.Equal(t, DefaultLimit, snap.Len())
}

func TestPermissionDeniedIsOnlyLogged(t *testing.T) {
	ft := newFakeTransport()
	logger, buf := testLogger()
	s := NewSubscriber(ft, WithLogger(logger))

	errCh := make(chan error, 1)
	unsub := s.Subscribe(context.Background(), TreeQuery("app"), "",
		func(Snapshot) {}, func(err error) { errCh <- err })
	defer unsub()

	ft.errs <- &Error{Code: CodePermissionDenied, Message: "missing or insufficient permissions"}

	select {
	case err := <-errCh:
		t.Fatalf("permission-denied should not be forwarded, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(buf.String(), "permission denied") {
		if time.Now().After(deadline) {
			t.Fatalf("expected warning in log, got %q", buf.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOtherErrorsAreForwarded(t *testing.T) {
	ft := newFakeTransport()
	s := NewSubscriber(ft)

	errCh := make(chan error, 1)
	unsub := s.Subscribe(context.Background(), TreeQuery("app"), "tok",
		func(Snapshot) {}, func(err error) { errCh <- err })
	defer unsub()

	ft.errs <- &Error{Code: CodeUnavailable, Message: "backend down"}

	select {
	case err := <-errCh:
		assert.Equal(t, CodeUnavailable, CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("unavailable error was not forwarded")
	}
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	ft := newFakeTransport()
	s := NewSubscriber(ft)

	var mu sync.Mutex
	delivered := 0
	unsub := s.Subscribe(context.Background(), TreeQuery("app"), "tok",
		func(Snapshot) {
			mu.Lock()
			delivered++
			mu.Unlock()
		}, func(error) {})

	unsub()
	unsub()

	select {
	case <-ft.cancelled:
	case <-time.After(time.Second):
		t.Fatal("transport was not cancelled")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, delivered)
}

func TestUnsubscribeWaitsForInFlightDelivery(t *testing.T) {
	ft := newFakeTransport()
	s := NewSubscriber(ft)

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	unsub := s.Subscribe(context.Background(), TreeQuery("app"), "tok",
		func(Snapshot) {
			mu.Lock()
			delivered++
			n := delivered
			mu.Unlock()
			if n == 1 {
				close(entered)
				<-release
			}
		}, func(error) {})

	ft.snaps <- Snapshot{Records: records(1)}
	<-entered

	returned := make(chan struct{})
	go func() {
		unsub()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("unsubscribe returned while a snapshot was being delivered")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe did not return after the delivery finished")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, delivered)
}

func TestAttachTimeout(t *testing.T) {
	ft := newFakeTransport()
	s := NewSubscriber(ft, WithAttachTimeout(20*time.Millisecond))

	errCh := make(chan error, 2)
	unsub := s.Subscribe(context.Background(), TreeQuery("app"), "tok",
		func(Snapshot) {}, func(err error) { errCh <- err })
	defer unsub()

	select {
	case err := <-errCh:
		assert.Equal(t, CodeDeadlineExceeded, CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("attach timeout did not fire")
	}

	select {
	case <-ft.cancelled:
	case <-time.After(time.Second):
		t.Fatal("timed out subscription should cancel the transport")
	}

	select {
	case err := <-errCh:
		t.Fatalf("error delivered twice: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAttachTimeoutDisarmedByPermissionDenied(t *testing.T) {
	ft := newFakeTransport()
	logger, _ := testLogger()
	s := NewSubscriber(ft, WithAttachTimeout(30*time.Millisecond), WithLogger(logger))

	errCh := make(chan error, 1)
	unsub := s.Subscribe(context.Background(), TreeQuery("app"), "",
		func(Snapshot) {}, func(err error) { errCh <- err })
	defer unsub()

	ft.errs <- &Error{Code: CodePermissionDenied}

	select {
	case err := <-errCh:
		t.Fatalf("no error expected after permission-denied, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
