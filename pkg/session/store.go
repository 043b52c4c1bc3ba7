package session

import "context"

// Store is durable session persistence. It is the source of truth; the
// cache in front of it only saves lookups.
type Store interface {
	// CreateSession inserts a new record.
	CreateSession(ctx context.Context, rec Record) error

	// GetSession loads one record by id. Returns ErrNotFound if absent.
	GetSession(ctx context.Context, id string) (Record, error)

	// FindActive returns the active session for an identity, if any.
	FindActive(ctx context.Context, identity string) (Record, bool, error)

	// AppendMessages atomically appends msgs to an active session and
	// advances last_activity, which never moves backwards. Returns
	// ErrSessionClosed when the session is no longer active.
	AppendMessages(ctx context.Context, id string, msgs []Message, lastActivityMS int64) error

	// SetMetadata atomically sets one metadata key on an active session.
	SetMetadata(ctx context.Context, id, key, value string) error

	// MarkClosed transitions a session to closed, persisting endedAtMS and
	// sorting the stored messages into the final transcript inside one
	// transaction, so an append committing concurrently is never lost.
	// Returns the transcript and true only for the call that performed the
	// transition; closing a closed session is a no-op.
	MarkClosed(ctx context.Context, id string, endedAtMS int64) ([]Message, bool, error)

	// ListIdleActive returns active sessions with last_activity at or
	// before cutoffMS.
	ListIdleActive(ctx context.Context, cutoffMS int64) ([]Record, error)

	Close() error
}

// Directory resolves channel identities to registered users.
type Directory interface {
	// ResolveUserID returns the profile for a normalized identity.
	// Returns ErrUnknownIdentity when no user is registered for it.
	ResolveUserID(ctx context.Context, identity string) (UserProfile, error)
}
