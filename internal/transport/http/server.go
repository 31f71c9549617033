// Package http serves the admin API and the WebSocket bridge.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/store"
	"github.com/vovakirdan/wirerelay/internal/transport/tcp"
)

// NewServer builds the admin HTTP server. journal may be nil when the
// session journal is disabled.
func NewServer(router *core.Router, listener *tcp.Listener, journal store.JournalReader, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	admin := NewAdminHandlers(router, journal, logger)
	engine.GET("/health", admin.Health)

	api := engine.Group("/api")
	api.GET("/sessions", admin.ListSessions)
	api.DELETE("/sessions/:identity", admin.KickSession)
	api.GET("/stats", admin.Stats)
	api.GET("/journal", admin.Journal)
	api.POST("/shutdown", admin.Shutdown)

	// /ws must not go through gin: its writer refuses Hijack once the
	// upgrade status has been written.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(listener, logger))
	mux.Handle("/", engine)

	return &stdhttp.Server{
		Addr:              cfg.AdminAddr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
