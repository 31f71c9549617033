package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirerelay/internal/proto"
	"github.com/vovakirdan/wirerelay/internal/store"
)

// ConflictPolicy decides what happens when an identity logs in twice.
type ConflictPolicy string

const (
	// ConflictReject refuses the second login with ErrIdentityTaken.
	ConflictReject ConflictPolicy = "reject"
	// ConflictReplace terminates the live session and registers the new one.
	ConflictReplace ConflictPolicy = "replace"
)

const (
	defaultMailboxSize = 100
	defaultQueueSize   = 100
	journalTimeout     = 2 * time.Second
)

// Stats are router counters, read through the router loop.
type Stats struct {
	Active     int    `json:"active"`
	Registered uint64 `json:"registered"`
	Rejected   uint64 `json:"rejected"`
	Replaced   uint64 `json:"replaced"`
	Routed     uint64 `json:"routed"`
	Dropped    uint64 `json:"dropped"`
}

// Options configure a Router. Zero values select defaults.
type Options struct {
	MailboxSize   int
	QueueSize     int
	OnConflict    ConflictPolicy
	NotifyOffline bool

	// RateLimit bounds inbound text frames per session; zero disables it.
	RateLimit rate.Limit
	RateBurst int

	Journal store.JournalWriter
	Logger  *zerolog.Logger

	// Spawn runs the handler for a new session. It is called on its own
	// goroutine. Defaults to the connection handler.
	Spawn func(*Session)
}

// Router owns the identity to session registry. Only the goroutine running
// Run reads or writes the registry; every other caller goes through the
// command queue.
//
// Mailbox sends block while the mailbox is full, so one slow recipient
// stalls routing for everyone until it drains or exits.
type Router struct {
	commands chan command
	done     chan struct{}

	sessions map[string]*Session
	stats    Stats

	mailboxSize   int
	onConflict    ConflictPolicy
	notifyOffline bool
	rateLimit     rate.Limit
	rateBurst     int
	journal       store.JournalWriter
	spawn         func(*Session)
	log           *zerolog.Logger
}

// NewRouter creates a router. Call Run to start processing.
func NewRouter(opts Options) *Router {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.OnConflict == "" {
		opts.OnConflict = ConflictReject
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.RateLimit > 0 && opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}

	r := &Router{
		commands:      make(chan command, opts.QueueSize),
		done:          make(chan struct{}),
		sessions:      make(map[string]*Session),
		mailboxSize:   opts.MailboxSize,
		onConflict:    opts.OnConflict,
		notifyOffline: opts.NotifyOffline,
		rateLimit:     opts.RateLimit,
		rateBurst:     opts.RateBurst,
		journal:       opts.Journal,
		spawn:         opts.Spawn,
		log:           opts.Logger,
	}
	if r.spawn == nil {
		r.spawn = r.runHandler
	}
	return r
}

// Run processes commands one at a time until Shutdown or ctx cancellation.
func (r *Router) Run(ctx context.Context) {
	defer close(r.done)

	r.log.Info().Msg("router started")
	for {
		select {
		case <-ctx.Done():
			r.shutdown("context cancelled")
			return
		case cmd := <-r.commands:
			if stop := r.handle(cmd); stop {
				return
			}
		}
	}
}

// Done is closed once the router has stopped.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// RegisterSession creates a session bound to conn, starts its handler and
// records it under identity.
func (r *Router) RegisterSession(identity string, conn Conn) (*Session, error) {
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}
	res, err := r.call(command{kind: commandRegister, identity: identity, conn: conn})
	if err != nil {
		return nil, err
	}
	return res.session, res.err
}

// RouteText asks the router to deliver body from sender to recipient. It
// returns once the request is queued; unknown identities are dropped
// silently.
func (r *Router) RouteText(sender, recipient string, body []byte) error {
	return r.submit(command{kind: commandRoute, identity: sender, recipient: recipient, body: body})
}

// routeFrom is RouteText for a frame read by s. It is dropped once s no
// longer holds its identity.
func (r *Router) routeFrom(s *Session, recipient string, body []byte) error {
	return r.submit(command{kind: commandRoute, identity: s.Identity, recipient: recipient, body: body, session: s})
}

// Deregister removes identity and terminates its session. Absent
// identities are ignored.
func (r *Router) Deregister(identity string) error {
	return r.submit(command{kind: commandDeregister, identity: identity})
}

// Lookup reports whether identity is registered.
func (r *Router) Lookup(identity string) (bool, error) {
	res, err := r.call(command{kind: commandLookup, identity: identity})
	if err != nil {
		return false, err
	}
	return res.found, nil
}

// Sessions lists registered sessions ordered by identity.
func (r *Router) Sessions() ([]SessionInfo, error) {
	res, err := r.call(command{kind: commandSnapshot})
	if err != nil {
		return nil, err
	}
	return res.sessions, nil
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() (Stats, error) {
	res, err := r.call(command{kind: commandStats})
	if err != nil {
		return Stats{}, err
	}
	return res.stats, nil
}

// Shutdown terminates every session and stops the router. It waits for the
// router loop to exit and is a no-op once the router has stopped.
//
// A session whose mailbox is full when it is terminated has its connection
// closed, so a peer that stopped reading cannot hold up shutdown.
func (r *Router) Shutdown() {
	if err := r.submit(command{kind: commandShutdown}); err != nil {
		return
	}
	<-r.done
}

// release deregisters s only if it still holds its identity.
func (r *Router) release(s *Session, reason string) error {
	return r.submit(command{kind: commandRelease, session: s, reason: reason})
}

func (r *Router) submit(cmd command) error {
	select {
	case <-r.done:
		return ErrRouterClosed
	default:
	}
	select {
	case r.commands <- cmd:
		return nil
	case <-r.done:
		return ErrRouterClosed
	}
}

func (r *Router) call(cmd command) (reply, error) {
	cmd.reply = make(chan reply, 1)
	if err := r.submit(cmd); err != nil {
		return reply{}, err
	}
	select {
	case res := <-cmd.reply:
		return res, nil
	case <-r.done:
		select {
		case res := <-cmd.reply:
			return res, nil
		default:
			return reply{}, ErrRouterClosed
		}
	}
}

func (r *Router) handle(cmd command) bool {
	switch cmd.kind {
	case commandRegister:
		s, err := r.register(cmd.identity, cmd.conn)
		cmd.reply <- reply{session: s, err: err}
	case commandRoute:
		r.route(cmd.identity, cmd.recipient, cmd.body, cmd.session)
	case commandDeregister:
		if s, ok := r.sessions[cmd.identity]; ok {
			r.remove(s, store.EventTerminated, "deregistered")
		}
	case commandRelease:
		s := cmd.session
		if current, ok := r.sessions[s.Identity]; ok && current == s {
			r.remove(s, store.EventLogout, cmd.reason)
		}
	case commandLookup:
		_, ok := r.sessions[cmd.identity]
		cmd.reply <- reply{found: ok}
	case commandSnapshot:
		cmd.reply <- reply{sessions: r.snapshot()}
	case commandStats:
		st := r.stats
		st.Active = len(r.sessions)
		cmd.reply <- reply{stats: st}
	case commandShutdown:
		r.shutdown("shutdown requested")
		return true
	}
	return false
}

func (r *Router) register(identity string, conn Conn) (*Session, error) {
	if old, ok := r.sessions[identity]; ok {
		if r.onConflict != ConflictReplace {
			r.stats.Rejected++
			r.log.Info().Str("identity", identity).Msg("login rejected: identity taken")
			r.record(&store.SessionEvent{
				Identity:   identity,
				Kind:       store.EventRejected,
				RemoteAddr: remoteAddr(conn),
				Detail:     "identity taken",
			})
			return nil, fmt.Errorf("register %q: %w", identity, ErrIdentityTaken)
		}
		r.stats.Replaced++
		r.remove(old, store.EventTerminated, "replaced by new login")
	}

	s := newSession(identity, conn, r.mailboxSize)
	r.sessions[identity] = s
	r.stats.Registered++
	go r.spawn(s)

	r.log.Info().
		Str("identity", identity).
		Str("session_id", s.ID).
		Str("remote_addr", s.RemoteAddr).
		Int("active", len(r.sessions)).
		Msg("session registered")
	r.record(&store.SessionEvent{
		SessionID:  s.ID,
		Identity:   identity,
		Kind:       store.EventLogin,
		RemoteAddr: s.RemoteAddr,
	})
	return s, nil
}

// route delivers body to recipient. A non-nil origin must still be the
// session registered under sender.
func (r *Router) route(sender, recipient string, body []byte, origin *Session) {
	from, senderOK := r.sessions[sender]
	if senderOK && origin != nil && from != origin {
		senderOK = false
	}
	to, recipientOK := r.sessions[recipient]
	if !senderOK || !recipientOK {
		r.stats.Dropped++
		r.log.Debug().
			Str("sender", sender).
			Str("recipient", recipient).
			Bool("sender_known", senderOK).
			Bool("recipient_known", recipientOK).
			Msg("route dropped")
		if senderOK && r.notifyOffline {
			r.deliver(from, deliverEvent(proto.ServerIdentity, []byte(recipient+" offline!")))
		}
		return
	}

	if r.deliver(to, deliverEvent(sender, body)) {
		r.stats.Routed++
	} else {
		r.stats.Dropped++
	}
}

// remove deletes s from the registry and sends it exactly one Terminate.
func (r *Router) remove(s *Session, kind store.EventKind, reason string) {
	delete(r.sessions, s.Identity)
	r.terminate(s)

	r.log.Info().
		Str("identity", s.Identity).
		Str("session_id", s.ID).
		Str("reason", reason).
		Int("active", len(r.sessions)).
		Msg("session deregistered")
	r.record(&store.SessionEvent{
		SessionID:  s.ID,
		Identity:   s.Identity,
		Kind:       kind,
		RemoteAddr: s.RemoteAddr,
		Detail:     reason,
	})
}

func (r *Router) shutdown(reason string) {
	r.log.Info().Int("sessions", len(r.sessions)).Str("reason", reason).Msg("router shutting down")
	for _, s := range r.sessions {
		r.remove(s, store.EventTerminated, "shutdown")
	}
	clear(r.sessions)
}

// terminate queues Terminate for s. When the mailbox is full the writer is
// stuck on the peer, so the connection is closed first and the handler exits
// through its write error.
func (r *Router) terminate(s *Session) {
	select {
	case s.Mailbox <- terminateEvent:
		return
	default:
	}
	if s.conn != nil {
		r.log.Warn().Str("identity", s.Identity).Str("session_id", s.ID).Msg("mailbox full, closing connection")
		_ = s.conn.Close()
	}
	r.deliver(s, terminateEvent)
}

// deliver blocks until the mailbox accepts ev or the session has stopped.
func (r *Router) deliver(s *Session, ev Event) bool {
	select {
	case s.Mailbox <- ev:
		return true
	case <-s.done:
		r.log.Debug().Str("identity", s.Identity).Str("event", ev.Kind.String()).Msg("session already stopped")
		return false
	}
}

func (r *Router) snapshot() []SessionInfo {
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	return out
}

func (r *Router) record(ev *store.SessionEvent) {
	if r.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := r.journal.Record(ctx, ev); err != nil {
		r.log.Warn().Err(err).Str("identity", ev.Identity).Str("kind", string(ev.Kind)).Msg("journal write failed")
	}
}

func (r *Router) runHandler(s *Session) {
	newHandler(s, r).Run()
}

// ValidateIdentity checks that identity can be registered and encoded.
func ValidateIdentity(identity string) error {
	switch {
	case identity == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	case len(identity) > proto.MaxIdentityLen:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidIdentity, len(identity), proto.MaxIdentityLen)
	case !utf8.ValidString(identity):
		return fmt.Errorf("%w: not utf-8", ErrInvalidIdentity)
	case identity == proto.ServerIdentity:
		return fmt.Errorf("%w: reserved", ErrInvalidIdentity)
	}
	return nil
}

func remoteAddr(conn Conn) string {
	if conn == nil {
		return ""
	}
	return conn.RemoteAddr()
}
