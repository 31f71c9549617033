// Package client is the connecting side of the relay protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

const incomingBuffer = 64

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("client closed")

// Client holds one logged in connection. Send, Heartbeat and Logout are
// safe for concurrent use.
type Client struct {
	identity string
	conn     *proto.Conn

	incoming chan proto.Message
	closed   chan struct{}
	readDone chan struct{}
	readErr  error

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to a relay over TCP and logs in as user.
func Dial(ctx context.Context, addr, user string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(nc, user)
}

// DialWebSocket connects through the admin server's WebSocket bridge.
// ctx bounds the lifetime of the connection, not just the dial.
func DialWebSocket(ctx context.Context, url, user string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return New(websocket.NetConn(ctx, conn, websocket.MessageBinary), user)
}

// New logs in as user over an established stream and starts reading.
// The server does not acknowledge a login; a rejection arrives on Incoming
// as a text from proto.ServerIdentity followed by end of stream.
func New(rwc io.ReadWriteCloser, user string) (*Client, error) {
	c := &Client{
		identity: user,
		conn:     proto.NewConn(rwc, 0),
		incoming: make(chan proto.Message, incomingBuffer),
		closed:   make(chan struct{}),
		readDone: make(chan struct{}),
	}
	if err := c.write(proto.NewLogin(user)); err != nil {
		_ = rwc.Close()
		return nil, fmt.Errorf("login: %w", err)
	}
	go c.readLoop()
	return c, nil
}

// Identity is the name this client logged in with.
func (c *Client) Identity() string {
	return c.identity
}

// Send asks the relay to deliver text to the named identity.
func (c *Client) Send(to, text string) error {
	return c.write(proto.NewText(c.identity, to, text))
}

// Heartbeat sends a keepalive frame.
func (c *Client) Heartbeat() error {
	return c.write(proto.NewHeartbeat(c.identity))
}

// Logout releases the identity. The server then closes the connection,
// which ends Incoming.
func (c *Client) Logout() error {
	return c.write(proto.NewLogout(c.identity))
}

// Incoming yields delivered texts. It is closed when the connection ends.
func (c *Client) Incoming() <-chan proto.Message {
	return c.incoming
}

// Err waits for the read side to stop and reports why. It is nil after a
// clean end of stream or Close.
func (c *Client) Err() error {
	<-c.readDone
	return c.readErr
}

// Close tears down the connection and waits for the reader.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	<-c.readDone
	return err
}

func (c *Client) write(m *proto.Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(m)
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	defer close(c.incoming)

	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.readErr = err
			}
			return
		}
		if msg == nil {
			return
		}

		select {
		case c.incoming <- *msg:
		case <-c.closed:
			return
		}
	}
}
