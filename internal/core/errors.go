package core

import "errors"

// Error codes carried in rejection notices sent to clients.
const (
	ErrCodeNeedLogin     = "need_login"
	ErrCodeIdentityTaken = "identity_taken"
	ErrCodeBadIdentity   = "bad_identity"
	ErrCodeUnavailable   = "unavailable"
)

var (
	ErrIdentityTaken   = errors.New("identity already registered")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrRouterClosed    = errors.New("router closed")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// RejectionFor maps a registration failure to the notice a client receives.
func RejectionFor(err error) *CoreError {
	switch {
	case errors.Is(err, ErrIdentityTaken):
		return coreError(ErrCodeIdentityTaken, "identity taken")
	case errors.Is(err, ErrInvalidIdentity):
		return coreError(ErrCodeBadIdentity, "invalid identity")
	case errors.Is(err, ErrRouterClosed):
		return coreError(ErrCodeUnavailable, "server shutting down")
	default:
		return coreError(ErrCodeNeedLogin, "need login")
	}
}
