package http

import (
	"context"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/transport/tcp"
)

// WSHandler upgrades HTTP connections and runs the relay protocol over
// binary WebSocket messages.
type WSHandler struct {
	listener *tcp.Listener
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(listener *tcp.Listener, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{listener: listener, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}

	// The bridged stream lives until this handler returns.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	nc := websocket.NetConn(ctx, conn, websocket.MessageBinary)
	session, err := h.listener.ServeConn(ctx, nc)
	if err != nil {
		h.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("ws handshake failed")
		return
	}

	h.log.Debug().Str("identity", session.Identity).Str("remote_addr", r.RemoteAddr).Msg("ws session started")
	select {
	case <-session.Done():
	case <-ctx.Done():
	}
}
