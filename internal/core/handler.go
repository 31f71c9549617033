package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

var (
	errLoggedOut  = errors.New("logged out")
	errTerminated = errors.New("terminated by router")
)

// handler bridges one connection to the router. The read path and the
// mailbox path run on separate goroutines so neither can starve the other.
type handler struct {
	session *Session
	router  *Router
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newHandler(s *Session, r *Router) *handler {
	h := &handler{
		session: s,
		router:  r,
		log: r.log.With().
			Str("identity", s.Identity).
			Str("session_id", s.ID).
			Logger(),
	}
	if r.rateLimit > 0 {
		h.limiter = rate.NewLimiter(r.rateLimit, r.rateBurst)
	}
	return h
}

// Run blocks until the session ends, then releases the connection.
func (h *handler) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop()
	}()
	go func() {
		errCh <- h.writeLoop(ctx)
	}()

	err := <-errCh
	cancel()
	// Closing the connection unblocks a read loop still waiting on the peer.
	_ = h.session.conn.Close()
	// Mark the session stopped before waiting on the read loop: it may be
	// queued behind a router that is blocked on this mailbox.
	h.session.Finish()
	<-errCh

	reason := "connection closed"
	switch {
	case errors.Is(err, errLoggedOut):
		reason = "logout"
	case errors.Is(err, errTerminated):
		reason = "terminated"
	case err != nil:
		reason = err.Error()
		if proto.IsCodecError(err) {
			h.log.Warn().Err(err).Msg("malformed frame, closing session")
		} else {
			h.log.Info().Err(err).Msg("connection error")
		}
	}

	// No-op when the router already removed this session.
	if relErr := h.router.release(h.session, reason); relErr != nil && !errors.Is(relErr, ErrRouterClosed) {
		h.log.Warn().Err(relErr).Msg("release session")
	}
	h.log.Info().Str("reason", reason).Msg("session closed")
}

func (h *handler) readLoop() error {
	s := h.session
	for {
		msg, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}

		switch msg.Kind {
		case proto.KindText:
			if h.limiter != nil && !h.limiter.Allow() {
				h.log.Warn().Str("recipient", msg.Recipient).Msg("rate limit exceeded, text dropped")
				continue
			}
			if msg.Sender != s.Identity {
				h.log.Debug().Str("claimed_sender", msg.Sender).Msg("sender restamped to session identity")
			}
			if err := h.router.routeFrom(s, msg.Recipient, msg.Body); err != nil {
				return err
			}
		case proto.KindLogout:
			if err := h.router.release(s, "logout"); err != nil {
				return err
			}
			return errLoggedOut
		default:
			h.log.Debug().Str("kind", msg.Kind.String()).Msg("frame ignored")
		}
	}
}

func (h *handler) writeLoop(ctx context.Context) error {
	s := h.session
	for {
		select {
		case ev := <-s.Mailbox:
			switch ev.Kind {
			case EventTerminate:
				return errTerminated
			case EventDeliver:
				msg := &proto.Message{
					Kind:      proto.KindText,
					Sender:    ev.From,
					Recipient: s.Identity,
					Body:      ev.Body,
				}
				if err := s.conn.WriteMessage(msg); err != nil {
					h.log.Error().Err(err).Str("from", ev.From).Msg("write deliver")
					return err
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}
