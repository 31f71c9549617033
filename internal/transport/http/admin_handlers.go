package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/store"
)

const defaultJournalLimit = 50

// AdminHandlers exposes router queries and operator actions.
type AdminHandlers struct {
	router  *core.Router
	journal store.JournalReader
	log     *zerolog.Logger
}

// NewAdminHandlers creates a new admin handlers instance.
func NewAdminHandlers(router *core.Router, journal store.JournalReader, logger *zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{
		router:  router,
		journal: journal,
		log:     logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionsResponse lists registered sessions.
type SessionsResponse struct {
	Sessions []core.SessionInfo `json:"sessions"`
}

// JournalResponse lists journal rows, newest first.
type JournalResponse struct {
	Events []*store.SessionEvent `json:"events"`
}

// Health reports liveness.
// GET /health
func (h *AdminHandlers) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// ListSessions returns every registered session.
// GET /api/sessions
func (h *AdminHandlers) ListSessions(c *gin.Context) {
	sessions, err := h.router.Sessions()
	if err != nil {
		h.routerError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionsResponse{Sessions: sessions})
}

// KickSession deregisters an identity and closes its connection.
// DELETE /api/sessions/:identity
func (h *AdminHandlers) KickSession(c *gin.Context) {
	identity := c.Param("identity")

	found, err := h.router.Lookup(identity)
	if err != nil {
		h.routerError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}

	if err := h.router.Deregister(identity); err != nil {
		h.routerError(c, err)
		return
	}
	h.log.Info().Str("identity", identity).Msg("session kicked by operator")
	c.Status(http.StatusNoContent)
}

// Stats returns router counters.
// GET /api/stats
func (h *AdminHandlers) Stats(c *gin.Context) {
	stats, err := h.router.Stats()
	if err != nil {
		h.routerError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Journal returns recent session lifecycle events.
// GET /api/journal?limit=N&identity=X
func (h *AdminHandlers) Journal(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "journal disabled"})
		return
	}

	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	var (
		events []*store.SessionEvent
		err    error
	)
	if identity := c.Query("identity"); identity != "" {
		events, err = h.journal.ForIdentity(ctx, identity, limit)
	} else {
		events, err = h.journal.Recent(ctx, limit)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read journal")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read journal"})
		return
	}
	if events == nil {
		events = []*store.SessionEvent{}
	}
	c.JSON(http.StatusOK, JournalResponse{Events: events})
}

// Shutdown terminates every session and stops the router.
// POST /api/shutdown
func (h *AdminHandlers) Shutdown(c *gin.Context) {
	h.log.Info().Str("client_ip", c.ClientIP()).Msg("shutdown requested over admin api")
	go h.router.Shutdown()
	c.JSON(http.StatusAccepted, gin.H{"status": "shutting down"})
}

func (h *AdminHandlers) routerError(c *gin.Context, err error) {
	if errors.Is(err, core.ErrRouterClosed) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "router closed"})
		return
	}
	h.log.Error().Err(err).Msg("router query failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
