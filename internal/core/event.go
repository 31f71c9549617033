package core

// EventKind is a notification the router pushes into a session mailbox.
type EventKind int

const (
	// EventDeliver hands a routed text to the recipient session.
	EventDeliver EventKind = iota
	// EventTerminate tells the session to release its connection.
	EventTerminate
)

func (k EventKind) String() string {
	switch k {
	case EventDeliver:
		return "deliver"
	case EventTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Event is sent to sessions by the router and only by the router.
type Event struct {
	Kind EventKind
	From string
	Body []byte
}

func deliverEvent(from string, body []byte) Event {
	return Event{Kind: EventDeliver, From: from, Body: body}
}

var terminateEvent = Event{Kind: EventTerminate}
