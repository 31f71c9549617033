package proto

import (
	"errors"
	"fmt"
)

// Frame fields, in wire order. Used to report which field a decode stopped at.
const (
	FieldKind            = "kind"
	FieldSenderLength    = "sender length"
	FieldSender          = "sender"
	FieldRecipientLength = "recipient length"
	FieldRecipient       = "recipient"
	FieldBodyLength      = "body length"
	FieldBody            = "body"
)

var (
	// ErrFrameTooLarge is wrapped by a FramingError when a body length exceeds the decoder limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrTruncated is wrapped by a FramingError when the stream ends inside a field.
	ErrTruncated = errors.New("truncated")
	// ErrInvalidUTF8 is wrapped by a FramingError for identities or text bodies that are not UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8")
)

// FramingError reports a truncated or malformed frame field.
type FramingError struct {
	Field string
	Err   error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %s: %v", e.Field, e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// UnknownKindError reports a kind byte outside the known set.
type UnknownKindError struct {
	Kind uint8
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown message kind %d", e.Kind)
}

// EncodingError reports a message that cannot be represented on the wire.
type EncodingError struct {
	Field  string
	Length int
	Limit  int64
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode: %s is %d bytes, limit %d", e.Field, e.Length, e.Limit)
}

// ConnectionError wraps an I/O failure on the underlying stream.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsCodecError reports whether err came from frame parsing rather than the connection.
func IsCodecError(err error) bool {
	var fe *FramingError
	var ke *UnknownKindError
	return errors.As(err, &fe) || errors.As(err, &ke)
}

func truncated(field string) error {
	return &FramingError{Field: field, Err: ErrTruncated}
}
