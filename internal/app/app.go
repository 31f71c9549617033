package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/store"
	"github.com/vovakirdan/wirerelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirerelay/internal/transport/http"
	"github.com/vovakirdan/wirerelay/internal/transport/tcp"
)

// App wires together core and transport layers.
type App struct {
	cfg      *config.Config
	router   *core.Router
	listener *tcp.Listener
	server   *stdhttp.Server
	store    store.Store
	log      *zerolog.Logger

	ready    chan struct{}
	tcpAddr  net.Addr
	httpAddr net.Addr
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		cfg:   cfg,
		log:   logger,
		ready: make(chan struct{}),
	}

	opts := core.Options{
		MailboxSize:   cfg.MailboxSize,
		QueueSize:     cfg.RouterQueueSize,
		OnConflict:    core.ConflictPolicy(cfg.OnConflict),
		NotifyOffline: cfg.NotifyOffline,
		RateLimit:     rate.Limit(cfg.RateLimit),
		RateBurst:     cfg.RateBurst,
		Logger:        logger,
	}

	var journal store.JournalReader
	if cfg.DatabasePath != "" {
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("session journal enabled")
		a.store = st
		opts.Journal = st
		journal = st
	}

	a.router = core.NewRouter(opts)
	a.listener = tcp.NewListener(a.router, tcp.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		LoginTimeout: cfg.LoginTimeout,
		Logger:       logger,
	})
	if cfg.AdminAddr != "" {
		a.server = transporthttp.NewServer(a.router, a.listener, journal, cfg, logger)
	}

	return a, nil
}

// Run binds the listeners and blocks until ctx is cancelled, the router is
// shut down or a listener fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tcpLn, httpLn, err := a.bind(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.router.Run(gctx)
		// Covers shutdown requested over the admin API or by an operator.
		cancel()
		return nil
	})

	g.Go(func() error {
		return a.listener.Serve(gctx, tcpLn)
	})

	if a.server != nil {
		g.Go(func() error {
			a.log.Info().Str("addr", httpLn.Addr().String()).Msg("admin http server started")
			if err := a.server.Serve(httpLn); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer stop()

			a.log.Info().Msg("shutting down admin http server")
			return a.server.Shutdown(shutdownCtx)
		})
	}

	close(a.ready)
	err = g.Wait()
	a.log.Info().Msg("relay stopped")
	return err
}

// Ready is closed once Run has bound its listeners.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// TCPAddr is the bound relay address. Valid after Ready.
func (a *App) TCPAddr() net.Addr {
	return a.tcpAddr
}

// AdminAddr is the bound admin address, nil when the admin server is
// disabled. Valid after Ready.
func (a *App) AdminAddr() net.Addr {
	return a.httpAddr
}

// Shutdown terminates every session and stops Run.
func (a *App) Shutdown() {
	a.log.Info().Msg("shutdown requested by operator")
	a.router.Shutdown()
}

func (a *App) bind(ctx context.Context) (net.Listener, net.Listener, error) {
	var lc net.ListenConfig

	tcpLn, err := lc.Listen(ctx, "tcp", a.cfg.ListenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", a.cfg.ListenAddr, err)
	}
	a.tcpAddr = tcpLn.Addr()

	if a.server == nil {
		return tcpLn, nil, nil
	}
	httpLn, err := lc.Listen(ctx, "tcp", a.cfg.AdminAddr)
	if err != nil {
		_ = tcpLn.Close()
		return nil, nil, fmt.Errorf("listen %s: %w", a.cfg.AdminAddr, err)
	}
	a.httpAddr = httpLn.Addr()
	return tcpLn, httpLn, nil
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
