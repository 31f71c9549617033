package proto

import "fmt"

// Kind is the first byte of every frame.
type Kind uint8

const (
	// KindHeartbeat carries no body.
	KindHeartbeat Kind = 0
	// KindText carries a UTF-8 body addressed to the recipient.
	KindText Kind = 1
	// KindLogin claims the sender identity. No body.
	KindLogin Kind = 2
	// KindLogout releases the sender identity. No body.
	KindLogout Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindText:
		return "text"
	case KindLogin:
		return "login"
	case KindLogout:
		return "logout"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	return k <= KindLogout
}

const (
	// MaxIdentityLen is the largest identity the one-byte length prefix can describe.
	MaxIdentityLen = 255

	// ServerIdentity is the sender used for notices originating from the relay itself.
	ServerIdentity = "<Server>"
)

// Message is one decoded frame.
type Message struct {
	Kind      Kind
	Sender    string
	Recipient string
	Body      []byte
}

// NewText builds a Text message from sender to recipient.
func NewText(sender, recipient, text string) *Message {
	return &Message{Kind: KindText, Sender: sender, Recipient: recipient, Body: []byte(text)}
}

// NewLogin builds the handshake frame claiming identity.
func NewLogin(identity string) *Message {
	return &Message{Kind: KindLogin, Sender: identity}
}

// NewLogout builds the frame releasing identity.
func NewLogout(identity string) *Message {
	return &Message{Kind: KindLogout, Sender: identity}
}

// NewHeartbeat builds an empty keepalive frame.
func NewHeartbeat(identity string) *Message {
	return &Message{Kind: KindHeartbeat, Sender: identity}
}

// Text returns the body as a string.
func (m *Message) Text() string {
	return string(m.Body)
}

// EncodedLen is the number of bytes Encode produces for m.
func (m *Message) EncodedLen() int {
	return headerKindLen + identityLenLen + len(m.Sender) + identityLenLen + len(m.Recipient) + bodyLenLen + len(m.Body)
}
