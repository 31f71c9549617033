package proto

import (
	"io"
	"net"
	"time"
)

// Conn frames messages over an ordered byte stream.
// ReadMessage and WriteMessage may be used from different goroutines, but
// each must have a single caller at a time.
type Conn struct {
	rwc io.ReadWriteCloser
	dec *Decoder
}

// NewConn wraps rwc. maxBody limits inbound bodies (<= 0 selects DefaultMaxBody).
func NewConn(rwc io.ReadWriteCloser, maxBody int) *Conn {
	return &Conn{rwc: rwc, dec: NewDecoder(rwc, maxBody)}
}

// ReadMessage returns the next frame, or (nil, nil) once the peer has closed.
func (c *Conn) ReadMessage() (*Message, error) {
	return c.dec.Decode()
}

// WriteMessage encodes m onto the stream.
func (c *Conn) WriteMessage(m *Message) error {
	return Write(c.rwc, m)
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.rwc.Close()
}

// RemoteAddr describes the peer when the stream is a network connection.
func (c *Conn) RemoteAddr() string {
	if nc, ok := c.rwc.(net.Conn); ok && nc.RemoteAddr() != nil {
		return nc.RemoteAddr().String()
	}
	return ""
}

// SetReadDeadline applies t when the stream supports deadlines.
func (c *Conn) SetReadDeadline(t time.Time) error {
	if nc, ok := c.rwc.(net.Conn); ok {
		return nc.SetReadDeadline(t)
	}
	return nil
}
