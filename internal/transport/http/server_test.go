package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/proto"
	"github.com/vovakirdan/wirerelay/internal/store"
	"github.com/vovakirdan/wirerelay/internal/store/sqlite"
	"github.com/vovakirdan/wirerelay/internal/transport/tcp"
)

// startTestServer runs a router and the admin server. A nil spawn keeps the
// real session handler.
func startTestServer(t *testing.T, spawn func(*core.Session), journal store.JournalReader) (*httptest.Server, *core.Router) {
	t.Helper()

	disabledLogger := zerolog.Nop()
	router := core.NewRouter(core.Options{Spawn: spawn, Logger: &disabledLogger})
	ctx, cancel := context.WithCancel(context.Background())
	go router.Run(ctx)

	listener := tcp.NewListener(router, tcp.Options{LoginTimeout: time.Second, Logger: &disabledLogger})

	cfg := config.Default()
	cfg.AdminAddr = ":0"
	server := NewServer(router, listener, journal, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		cancel()
		<-router.Done()
		ts.Close()
	})
	return ts, router
}

func noHandler(*core.Session) {}

func doRequest(t *testing.T, ts *httptest.Server, method, path string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, ts.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := startTestServer(t, noHandler, nil)

	resp := doRequest(t, ts, http.MethodGet, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestListSessionsAndStats(t *testing.T) {
	ts, router := startTestServer(t, noHandler, nil)
	for _, identity := range []string{"bob", "alice"} {
		if _, err := router.RegisterSession(identity, nil); err != nil {
			t.Fatalf("register %s: %v", identity, err)
		}
	}

	resp := doRequest(t, ts, http.MethodGet, "/api/sessions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var sessions SessionsResponse
	decodeBody(t, resp, &sessions)
	if len(sessions.Sessions) != 2 || sessions.Sessions[0].Identity != "alice" || sessions.Sessions[1].Identity != "bob" {
		t.Fatalf("unexpected sessions: %+v", sessions.Sessions)
	}
	if sessions.Sessions[0].ID == "" {
		t.Fatal("expected session id")
	}

	resp = doRequest(t, ts, http.MethodGet, "/api/stats")
	var stats core.Stats
	decodeBody(t, resp, &stats)
	if stats.Active != 2 || stats.Registered != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestKickSession(t *testing.T) {
	ts, router := startTestServer(t, noHandler, nil)
	s, err := router.RegisterSession("alice", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	resp := doRequest(t, ts, http.MethodDelete, "/api/sessions/alice")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	select {
	case ev := <-s.Mailbox:
		if ev.Kind != core.EventTerminate {
			t.Fatalf("expected terminate, got %s", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("kicked session did not receive terminate")
	}
	if found, _ := router.Lookup("alice"); found {
		t.Fatal("alice should be deregistered")
	}

	resp = doRequest(t, ts, http.MethodDelete, "/api/sessions/ghost")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown identity, got %d", resp.StatusCode)
	}
}

func TestJournalDisabled(t *testing.T) {
	ts, _ := startTestServer(t, noHandler, nil)

	resp := doRequest(t, ts, http.MethodGet, "/api/journal")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestJournal(t *testing.T) {
	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	for _, ev := range []*store.SessionEvent{
		{Identity: "alice", Kind: store.EventLogin},
		{Identity: "bob", Kind: store.EventLogin},
		{Identity: "alice", Kind: store.EventLogout, Detail: "logout"},
	} {
		if err := st.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	ts, _ := startTestServer(t, noHandler, st)

	tests := []struct {
		name     string
		query    string
		status   int
		expected int
	}{
		{name: "all", query: "", status: http.StatusOK, expected: 3},
		{name: "limited", query: "?limit=1", status: http.StatusOK, expected: 1},
		{name: "by identity", query: "?identity=alice", status: http.StatusOK, expected: 2},
		{name: "bad limit", query: "?limit=zero", status: http.StatusBadRequest},
		{name: "negative limit", query: "?limit=-3", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, ts, http.MethodGet, "/api/journal"+tt.query)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.StatusCode)
			}
			if tt.status != http.StatusOK {
				return
			}
			var body JournalResponse
			decodeBody(t, resp, &body)
			if len(body.Events) != tt.expected {
				t.Fatalf("expected %d events, got %d", tt.expected, len(body.Events))
			}
		})
	}
}

func TestShutdownEndpoint(t *testing.T) {
	ts, router := startTestServer(t, noHandler, nil)
	s, err := router.RegisterSession("alice", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	resp := doRequest(t, ts, http.MethodPost, "/api/shutdown")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	select {
	case <-router.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop")
	}
	if ev := <-s.Mailbox; ev.Kind != core.EventTerminate {
		t.Fatalf("expected terminate, got %s", ev.Kind)
	}

	resp = doRequest(t, ts, http.MethodGet, "/api/sessions")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %d", resp.StatusCode)
	}
}

func dialWS(ctx context.Context, t *testing.T, ts *httptest.Server) *proto.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return proto.NewConn(websocket.NetConn(ctx, conn, websocket.MessageBinary), 0)
}

func TestWebSocketBridge(t *testing.T) {
	ts, router := startTestServer(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dialWS(ctx, t, ts)
	bob := dialWS(ctx, t, ts)

	for identity, conn := range map[string]*proto.Conn{"alice": alice, "bob": bob} {
		if err := conn.WriteMessage(proto.NewLogin(identity)); err != nil {
			t.Fatalf("login %s: %v", identity, err)
		}
	}
	waitRegistered(t, router, "alice")
	waitRegistered(t, router, "bob")

	if err := alice.WriteMessage(proto.NewText("alice", "bob", "over websocket")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := bob.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got == nil || got.Sender != "alice" || got.Text() != "over websocket" {
		t.Fatalf("unexpected frame: %+v", got)
	}

	if err := alice.WriteMessage(proto.NewLogout("alice")); err != nil {
		t.Fatalf("logout: %v", err)
	}
	waitGone(t, router, "alice")
}

func TestWebSocketNeedLogin(t *testing.T) {
	ts, _ := startTestServer(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(ctx, t, ts)
	if err := conn.WriteMessage(proto.NewText("alice", "bob", "too early")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got == nil || got.Sender != proto.ServerIdentity || got.Text() != "need login" {
		t.Fatalf("expected need login notice, got %+v", got)
	}
}

func waitRegistered(t *testing.T, r *core.Router, identity string) {
	t.Helper()
	waitLookup(t, r, identity, true)
}

func waitGone(t *testing.T, r *core.Router, identity string) {
	t.Helper()
	waitLookup(t, r, identity, false)
}

func waitLookup(t *testing.T, r *core.Router, identity string, want bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if found, err := r.Lookup(identity); err == nil && found == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("lookup %s never became %v", identity, want)
}
