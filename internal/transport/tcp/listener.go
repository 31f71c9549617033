// Package tcp accepts raw connections and performs the login handshake.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/proto"
)

// ErrNeedLogin is returned when a connection does not open with a Login frame.
var ErrNeedLogin = errors.New("need login")

const (
	rejectWriteTimeout = time.Second
	maxAcceptBackoff   = time.Second
)

// Options configure a Listener.
type Options struct {
	// MaxBodyBytes limits inbound frame bodies; zero selects proto.DefaultMaxBody.
	MaxBodyBytes int
	// LoginTimeout bounds the wait for the first frame; zero waits forever.
	LoginTimeout time.Duration
	Logger       *zerolog.Logger
}

// Listener hands logged in connections to a router.
type Listener struct {
	router       *core.Router
	maxBody      int
	loginTimeout time.Duration
	log          *zerolog.Logger

	handshakes sync.WaitGroup
}

// NewListener creates a listener registering sessions with router.
func NewListener(router *core.Router, opts Options) *Listener {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Listener{
		router:       router,
		maxBody:      opts.MaxBodyBytes,
		loginTimeout: opts.LoginTimeout,
		log:          logger,
	}
}

// ListenAndServe listens on addr and calls Serve.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. It closes ln and
// waits for pending handshakes before returning. Registered sessions are
// owned by the router and outlive Serve.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer l.handshakes.Wait()

	l.log.Info().Str("addr", ln.Addr().String()).Msg("tcp listener started")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.log.Info().Msg("tcp listener stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				l.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		l.handshakes.Add(1)
		go func() {
			defer l.handshakes.Done()
			_, _ = l.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn performs the login handshake on conn and registers the session.
// On failure it sends a rejection notice from the server identity and closes
// conn. The returned session owns conn from then on.
func (l *Listener) ServeConn(ctx context.Context, conn net.Conn) (*core.Session, error) {
	pc := proto.NewConn(conn, l.maxBody)
	log := l.log.With().Str("remote_addr", pc.RemoteAddr()).Logger()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	identity, err := l.handshake(pc)
	if !stop() {
		err = errors.Join(err, ctx.Err())
	}
	if err != nil {
		log.Info().Err(err).Msg("handshake failed")
		l.reject(conn, pc, ErrNeedLogin.Error())
		return nil, err
	}

	s, err := l.router.RegisterSession(identity, pc)
	if err != nil {
		notice := core.RejectionFor(err)
		log.Info().Err(err).Str("identity", identity).Str("code", notice.Code).Msg("login rejected")
		l.reject(conn, pc, notice.Message)
		return nil, err
	}
	return s, nil
}

func (l *Listener) handshake(pc *proto.Conn) (string, error) {
	if l.loginTimeout > 0 {
		if err := pc.SetReadDeadline(time.Now().Add(l.loginTimeout)); err != nil {
			return "", fmt.Errorf("set login deadline: %w", err)
		}
	}

	msg, err := pc.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read login: %w", err)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: closed before login", ErrNeedLogin)
	}
	if msg.Kind != proto.KindLogin {
		return "", fmt.Errorf("%w: first frame was %s", ErrNeedLogin, msg.Kind)
	}

	if err := pc.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("clear login deadline: %w", err)
	}
	return msg.Sender, nil
}

// reject writes a best effort notice and closes conn.
func (l *Listener) reject(conn net.Conn, pc *proto.Conn, text string) {
	_ = conn.SetWriteDeadline(time.Now().Add(rejectWriteTimeout))
	if err := pc.WriteMessage(proto.NewText(proto.ServerIdentity, "", text)); err != nil {
		l.log.Debug().Err(err).Msg("write rejection")
	}
	_ = pc.Close()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return d
}
