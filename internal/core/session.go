package core

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

// Conn is the framed connection a session owns.
type Conn interface {
	ReadMessage() (*proto.Message, error)
	WriteMessage(*proto.Message) error
	Close() error
	RemoteAddr() string
}

// Session pairs a logged in identity with its mailbox and connection.
type Session struct {
	ID          string
	Identity    string
	RemoteAddr  string
	ConnectedAt time.Time

	// Mailbox is written only by the router.
	Mailbox chan Event

	conn     Conn
	done     chan struct{}
	doneOnce sync.Once
}

// SessionInfo is a read-only view of a registered session.
type SessionInfo struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

func newSession(identity string, conn Conn, mailboxSize int) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Identity:    identity,
		ConnectedAt: time.Now().UTC(),
		Mailbox:     make(chan Event, mailboxSize),
		conn:        conn,
		done:        make(chan struct{}),
	}
	if conn != nil {
		s.RemoteAddr = conn.RemoteAddr()
	}
	return s
}

// Conn returns the connection the session owns.
func (s *Session) Conn() Conn {
	return s.conn
}

// Done is closed once the session handler has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Finish marks the session handler as stopped. Safe to call more than once.
func (s *Session) Finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		Identity:    s.Identity,
		RemoteAddr:  s.RemoteAddr,
		ConnectedAt: s.ConnectedAt,
	}
}
