package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

func TestRouterRoutesTextToRecipientOnly(t *testing.T) {
	r := startRouter(t, Options{})

	alice := mustRegister(t, r, "alice")
	bob := mustRegister(t, r, "bob")
	carol := mustRegister(t, r, "carol")

	if err := r.RouteText("alice", "bob", []byte("hi")); err != nil {
		t.Fatalf("route: %v", err)
	}
	barrier(t, r)

	ev := mustEvent(t, bob.Mailbox, EventDeliver)
	if ev.From != "alice" || string(ev.Body) != "hi" {
		t.Fatalf("unexpected deliver event: %+v", ev)
	}
	expectNoEvent(t, bob)
	expectNoEvent(t, alice)
	expectNoEvent(t, carol)
}

func TestRouterDropsUnknownIdentities(t *testing.T) {
	r := startRouter(t, Options{})

	alice := mustRegister(t, r, "alice")
	bob := mustRegister(t, r, "bob")

	if err := r.RouteText("alice", "ghost", []byte("hi")); err != nil {
		t.Fatalf("route to ghost returned error: %v", err)
	}
	if err := r.RouteText("ghost", "bob", []byte("hi")); err != nil {
		t.Fatalf("route from ghost returned error: %v", err)
	}
	barrier(t, r)

	expectNoEvent(t, alice)
	expectNoEvent(t, bob)

	st, err := r.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Dropped != 2 || st.Routed != 0 || st.Active != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRouterNotifyOffline(t *testing.T) {
	r := startRouter(t, Options{NotifyOffline: true})

	alice := mustRegister(t, r, "alice")

	if err := r.RouteText("alice", "ghost", []byte("hi")); err != nil {
		t.Fatalf("route: %v", err)
	}
	barrier(t, r)

	ev := mustEvent(t, alice.Mailbox, EventDeliver)
	if ev.From != proto.ServerIdentity || string(ev.Body) != "ghost offline!" {
		t.Fatalf("unexpected offline notice: %+v", ev)
	}
}

func TestRouterDeregisterCascade(t *testing.T) {
	r := startRouter(t, Options{})

	alice := mustRegister(t, r, "alice")
	bob := mustRegister(t, r, "bob")

	if err := r.Deregister("alice"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	barrier(t, r)

	mustEvent(t, alice.Mailbox, EventTerminate)
	expectNoEvent(t, alice)

	found, err := r.Lookup("alice")
	if err != nil || found {
		t.Fatalf("expected alice to be gone, found=%v err=%v", found, err)
	}

	if err := r.RouteText("bob", "alice", []byte("still there?")); err != nil {
		t.Fatalf("route: %v", err)
	}
	// Deregistering an absent identity is a no-op.
	if err := r.Deregister("alice"); err != nil {
		t.Fatalf("second deregister: %v", err)
	}
	barrier(t, r)

	expectNoEvent(t, alice)
	expectNoEvent(t, bob)
}

func TestRouterShutdownTerminatesEverySession(t *testing.T) {
	r := startRouter(t, Options{})

	sessions := []*Session{
		mustRegister(t, r, "alice"),
		mustRegister(t, r, "bob"),
		mustRegister(t, r, "carol"),
	}

	r.Shutdown()

	for _, s := range sessions {
		mustEvent(t, s.Mailbox, EventTerminate)
		expectNoEvent(t, s)
	}
	if len(r.sessions) != 0 {
		t.Fatalf("expected empty registry, got %d sessions", len(r.sessions))
	}

	if err := r.RouteText("alice", "bob", []byte("late")); !errors.Is(err, ErrRouterClosed) {
		t.Fatalf("expected ErrRouterClosed after shutdown, got %v", err)
	}
	if _, err := r.RegisterSession("dave", nil); !errors.Is(err, ErrRouterClosed) {
		t.Fatalf("expected ErrRouterClosed on register, got %v", err)
	}
	// Idempotent.
	r.Shutdown()
}

func TestRouterContextCancelShutsDown(t *testing.T) {
	r := NewRouter(Options{Spawn: func(*Session) {}})
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	alice := mustRegister(t, r, "alice")
	cancel()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop after context cancel")
	}
	mustEvent(t, alice.Mailbox, EventTerminate)
}

func TestRouterRejectsDuplicateLogin(t *testing.T) {
	r := startRouter(t, Options{})

	alice := mustRegister(t, r, "alice")

	_, regErr := r.RegisterSession("alice", nil)
	if !errors.Is(regErr, ErrIdentityTaken) {
		t.Fatalf("expected ErrIdentityTaken, got %v", regErr)
	}
	if code := RejectionFor(regErr).Code; code != ErrCodeIdentityTaken {
		t.Fatalf("expected %s rejection, got %s", ErrCodeIdentityTaken, code)
	}
	barrier(t, r)
	expectNoEvent(t, alice)

	sessions, err := r.Sessions()
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != alice.ID {
		t.Fatalf("expected original session to stay, got %+v", sessions)
	}
}

func TestRouterReplacesDuplicateLogin(t *testing.T) {
	r := startRouter(t, Options{OnConflict: ConflictReplace})

	first := mustRegister(t, r, "alice")
	second := mustRegister(t, r, "alice")
	if first.ID == second.ID {
		t.Fatal("expected a new session id")
	}

	mustEvent(t, first.Mailbox, EventTerminate)

	// A late release from the evicted session must not remove its successor.
	if err := r.release(first, "logout"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := r.RouteText("alice", "alice", []byte("echo")); err != nil {
		t.Fatalf("route: %v", err)
	}
	barrier(t, r)

	ev := mustEvent(t, second.Mailbox, EventDeliver)
	if string(ev.Body) != "echo" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	expectNoEvent(t, first)

	st, err := r.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Replaced != 1 || st.Registered != 2 || st.Active != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRouterDropsTextFromReplacedSession(t *testing.T) {
	r := startRouter(t, Options{OnConflict: ConflictReplace})

	bob := mustRegister(t, r, "bob")
	first := mustRegister(t, r, "alice")
	second := mustRegister(t, r, "alice")
	mustEvent(t, first.Mailbox, EventTerminate)

	// A frame the evicted session read before its Terminate must not be
	// attributed to the new alice.
	if err := r.routeFrom(first, "bob", []byte("stale")); err != nil {
		t.Fatalf("route: %v", err)
	}
	barrier(t, r)
	expectNoEvent(t, bob)

	if err := r.routeFrom(second, "bob", []byte("fresh")); err != nil {
		t.Fatalf("route: %v", err)
	}
	barrier(t, r)
	ev := mustEvent(t, bob.Mailbox, EventDeliver)
	if ev.From != "alice" || string(ev.Body) != "fresh" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	st, err := r.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Dropped != 1 || st.Routed != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRouterAliceBobScenario(t *testing.T) {
	r := startRouter(t, Options{})

	alice := mustRegister(t, r, "alice")
	bob := mustRegister(t, r, "bob")

	if err := r.RouteText("alice", "bob", []byte("hello")); err != nil {
		t.Fatalf("route: %v", err)
	}
	ev := mustEvent(t, bob.Mailbox, EventDeliver)
	if ev.From != "alice" || string(ev.Body) != "hello" {
		t.Fatalf("unexpected deliver: %+v", ev)
	}

	// Logout as the session handler reports it.
	if err := r.release(alice, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	mustEvent(t, alice.Mailbox, EventTerminate)

	if err := r.RouteText("alice", "bob", []byte("x")); err != nil {
		t.Fatalf("route: %v", err)
	}
	barrier(t, r)
	expectNoEvent(t, bob)
}

func TestRouterSessionsSortedByIdentity(t *testing.T) {
	r := startRouter(t, Options{})

	for _, name := range []string{"carol", "alice", "bob"} {
		mustRegister(t, r, name)
	}

	sessions, err := r.Sessions()
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	var got []string
	for _, s := range sessions {
		got = append(got, s.Identity)
		if s.ID == "" || s.ConnectedAt.IsZero() {
			t.Fatalf("incomplete session info: %+v", s)
		}
	}
	if strings.Join(got, ",") != "alice,bob,carol" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestRouterDeliverSkipsStoppedSession(t *testing.T) {
	r := startRouter(t, Options{MailboxSize: 1})

	mustRegister(t, r, "alice")
	bob := mustRegister(t, r, "bob")
	bob.Finish()

	// The second send would block on a full mailbox if the router ignored Done.
	for i := 0; i < 3; i++ {
		if err := r.RouteText("alice", "bob", []byte("hi")); err != nil {
			t.Fatalf("route: %v", err)
		}
	}
	barrier(t, r)
}

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		wantErr  bool
	}{
		{name: "simple", identity: "alice"},
		{name: "unicode", identity: "дворак"},
		{name: "max length", identity: strings.Repeat("a", proto.MaxIdentityLen)},
		{name: "empty", identity: "", wantErr: true},
		{name: "too long", identity: strings.Repeat("a", proto.MaxIdentityLen+1), wantErr: true},
		{name: "invalid utf8", identity: string([]byte{0xff, 0xfe}), wantErr: true},
		{name: "reserved", identity: proto.ServerIdentity, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentity(tt.identity)
			if tt.wantErr && !errors.Is(err, ErrInvalidIdentity) {
				t.Fatalf("expected ErrInvalidIdentity, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
