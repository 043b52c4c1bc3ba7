package session

import "errors"

var (
	// ErrUnknownIdentity means the inbound identity has no directory entry.
	// Terminal for the message; no session is created.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrSessionClosed means a write targeted an already closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotFound means no session record exists for the given id.
	ErrNotFound = errors.New("session not found")
)
