package core

// commandKind describes what a caller wants the router to do.
type commandKind int

const (
	// commandRegister creates a session for a freshly logged in connection.
	commandRegister commandKind = iota
	// commandRoute forwards a text between two identities.
	commandRoute
	// commandDeregister removes whatever session holds an identity.
	commandDeregister
	// commandRelease removes one specific session if it is still registered.
	commandRelease
	// commandLookup answers whether an identity is registered.
	commandLookup
	// commandSnapshot lists registered sessions.
	commandSnapshot
	// commandStats reports router counters.
	commandStats
	// commandShutdown terminates every session and stops the router.
	commandShutdown
)

// command is the single event type consumed by the router loop.
type command struct {
	kind      commandKind
	identity  string
	recipient string
	body      []byte
	reason    string
	conn      Conn
	session   *Session
	reply     chan reply
}

type reply struct {
	session  *Session
	found    bool
	sessions []SessionInfo
	stats    Stats
	err      error
}
