package relay

import "errors"

var (
	ErrInvalidSessionName = errors.New("invalid session name")
	ErrSessionTaken       = errors.New("session name already advertised")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionFull        = errors.New("session is full")
	ErrTooManySessions    = errors.New("too many sessions")
	ErrBadPasscode        = errors.New("passcode mismatch")
	ErrNotAuthority       = errors.New("only the session authority may broadcast")
)
