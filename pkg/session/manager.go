// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dotsetgreg/dotconnect/pkg/logger"
)

// TranscriptSink receives the final transcript of a session exactly once,
// from whichever caller performed the close transition.
type TranscriptSink interface {
	EnqueueTranscript(t Transcript)
}

// ManagerConfig tunes write retry behavior.
type ManagerConfig struct {
	AppendRetries int
	RetryBackoff  time.Duration
}

// Manager owns the session lifecycle: lookup, creation, appends, and the
// idempotent close handoff.
type Manager struct {
	store     Store
	directory Directory
	cache     Cache
	sink      TranscriptSink
	retries   int
	backoff   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(cfg ManagerConfig, store Store, directory Directory, cache Cache, sink TranscriptSink) *Manager {
	if cfg.AppendRetries <= 0 {
		cfg.AppendRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 150 * time.Millisecond
	}
	return &Manager{
		store:     store,
		directory: directory,
		cache:     cache,
		sink:      sink,
		retries:   cfg.AppendRetries,
		backoff:   cfg.RetryBackoff,
		locks:     make(map[string]*sync.Mutex),
	}
}

// identityLock serializes check-then-create per identity so concurrent
// messages from one sender cannot race two sessions into existence.
func (m *Manager) identityLock(identity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[identity] = lock
	}
	return lock
}

// GetOrCreate returns the single active session for identity, creating one
// when none exists. Unknown identities never get a session.
func (m *Manager) GetOrCreate(ctx context.Context, identity string) (Record, error) {
	lock := m.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	if rec, ok := m.cache.Get(identity); ok && rec.Status == StatusActive {
		return rec, nil
	}

	rec, found, err := m.store.FindActive(ctx, identity)
	if err != nil {
		return Record{}, fmt.Errorf("find active session: %w", err)
	}
	if found {
		m.cache.Put(rec)
		return rec, nil
	}

	profile, err := m.directory.ResolveUserID(ctx, identity)
	if err != nil {
		return Record{}, err
	}

	rec = NewRecord(profile.ID, identity)
	if err := m.withRetry(ctx, func() error {
		return m.store.CreateSession(ctx, rec)
	}); err != nil {
		return Record{}, fmt.Errorf("create session: %w", err)
	}
	m.cache.Put(rec)

	logger.InfoCF("session", "Session opened", map[string]interface{}{
		"session_id": rec.ID,
		"identity":   identity,
	})
	return rec, nil
}

// Append durably persists msgs on the session before anything else observes
// them, then refreshes the cached copy.
func (m *Manager) Append(ctx context.Context, id string, msgs ...Message) (Record, error) {
	if len(msgs) == 0 {
		return m.store.GetSession(ctx, id)
	}

	last := msgs[0].TimestampMS
	for _, msg := range msgs[1:] {
		if msg.TimestampMS > last {
			last = msg.TimestampMS
		}
	}
	if last <= 0 {
		last = nowMS()
	}

	if err := m.withRetry(ctx, func() error {
		return m.store.AppendMessages(ctx, id, msgs, last)
	}); err != nil {
		return Record{}, err
	}

	rec, err := m.store.GetSession(ctx, id)
	if err != nil {
		return Record{}, err
	}
	m.cache.Put(rec)
	return rec, nil
}

// SetMetadata sets one metadata key on an active session.
func (m *Manager) SetMetadata(ctx context.Context, id, key, value string) (Record, error) {
	if err := m.withRetry(ctx, func() error {
		return m.store.SetMetadata(ctx, id, key, value)
	}); err != nil {
		return Record{}, err
	}

	rec, err := m.store.GetSession(ctx, id)
	if err != nil {
		return Record{}, err
	}
	m.cache.Put(rec)
	return rec, nil
}

// Get loads a session by id from the store.
func (m *Manager) Get(ctx context.Context, id string) (Record, error) {
	return m.store.GetSession(ctx, id)
}

// Close ends a session. Closing an already closed session is a no-op, and
// only the call that performed the transition hands the transcript to the
// sink, so downstream sees each session exactly once.
func (m *Manager) Close(ctx context.Context, id, reason string) error {
	rec, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}

	// The store sorts and finalizes the transcript inside the close
	// transaction; a snapshot taken here could miss an append committing
	// concurrently.
	transcript, transitioned, err := m.store.MarkClosed(ctx, id, nowMS())
	if err != nil {
		return fmt.Errorf("mark session closed: %w", err)
	}

	// Only evict the cache entry that belongs to this session. Closing an
	// already-closed id must not evict a newer active session cached under
	// the same identity.
	if cached, ok := m.cache.Peek(rec.Identity); ok && cached.ID == rec.ID {
		m.cache.Delete(rec.Identity)
	}

	if !transitioned {
		return nil
	}

	logger.InfoCF("session", "Session closed", map[string]interface{}{
		"session_id": id,
		"identity":   rec.Identity,
		"reason":     reason,
		"messages":   len(transcript),
	})

	if m.sink != nil {
		m.sink.EnqueueTranscript(Transcript{
			SessionID: rec.ID,
			UserID:    rec.UserID,
			Identity:  rec.Identity,
			Messages:  transcript,
		})
	}
	return nil
}

func (m *Manager) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < m.retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(m.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		err = op()
		if err == nil {
			return nil
		}
		// Writes to a closed or missing session will not succeed on retry.
		if isTerminal(err) {
			return err
		}
		logger.WarnCF("session", "Store write failed, retrying", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}
	return err
}

func isTerminal(err error) bool {
	return err == nil ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnknownIdentity)
}
