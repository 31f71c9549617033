package core

import (
	"context"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
			t.Fatalf("expected %s event, got %s (%+v)", kind, ev.Kind, ev)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %s not received", kind)
	return Event{}
}

func expectNoEvent(t *testing.T, s *Session) {
	t.Helper()

	select {
	case ev := <-s.Mailbox:
		t.Fatalf("unexpected event for %s: %+v", s.Identity, ev)
	default:
	}
}

// startRouter runs a router whose sessions have no handler, so tests can
// inspect mailboxes directly.
func startRouter(t *testing.T, opts Options) *Router {
	t.Helper()

	opts.Spawn = func(*Session) {}
	r := NewRouter(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-r.Done()
	})
	return r
}

func mustRegister(t *testing.T, r *Router, identity string) *Session {
	t.Helper()

	s, err := r.RegisterSession(identity, nil)
	if err != nil {
		t.Fatalf("register %s: %v", identity, err)
	}
	return s
}

// barrier waits until every command queued before it has been processed.
func barrier(t *testing.T, r *Router) {
	t.Helper()

	if _, err := r.Lookup(""); err != nil {
		t.Fatalf("router barrier: %v", err)
	}
}
