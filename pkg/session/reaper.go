package session

import (
	"context"
	"sync"
	"time"

	"github.com/dotsetgreg/dotconnect/pkg/logger"
)

// ReaperConfig tunes the idle-session sweep.
type ReaperConfig struct {
	Timeout       time.Duration
	SweepInterval time.Duration
}

// Reaper closes sessions whose last activity is older than the timeout.
// It sweeps both the cache and the store, so sessions survive cache loss.
type Reaper struct {
	cfg     ReaperConfig
	manager *Manager
	cache   Cache
	store   Store

	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func NewReaper(cfg ReaperConfig, manager *Manager, cache Cache, store Store) *Reaper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Reaper{
		cfg:     cfg,
		manager: manager,
		cache:   cache,
		store:   store,
		stopCh:  make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Reaper) Stop() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Sweep(context.Background())
		}
	}
}

// Sweep runs one expiration pass. A session is only closed once its idle
// time has reached the full timeout; under normal operation it is closed
// within timeout plus one sweep interval.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.Timeout).UnixMilli()
	closed := 0

	for _, identity := range r.cache.Keys() {
		rec, ok := r.cache.Peek(identity)
		if !ok || rec.Status != StatusActive {
			continue
		}
		if rec.LastActivityMS > cutoff {
			continue
		}
		if err := r.closeIdle(ctx, rec.ID); err != nil {
			logger.WarnCF("reaper", "Failed to close cached idle session", map[string]interface{}{
				"session_id": rec.ID,
				"error":      err.Error(),
			})
			continue
		}
		closed++
	}

	// The store sweep catches sessions evicted from cache, including those
	// left over from a previous process lifetime.
	idle, err := r.store.ListIdleActive(ctx, cutoff)
	if err != nil {
		logger.ErrorCF("reaper", "Idle session listing failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	for _, rec := range idle {
		if err := r.closeIdle(ctx, rec.ID); err != nil {
			logger.WarnCF("reaper", "Failed to close idle session", map[string]interface{}{
				"session_id": rec.ID,
				"error":      err.Error(),
			})
			continue
		}
		closed++
	}

	if closed > 0 {
		logger.InfoCF("reaper", "Expired idle sessions", map[string]interface{}{
			"count": closed,
		})
	}
}

func (r *Reaper) closeIdle(ctx context.Context, id string) error {
	// Cache and store sweeps can race over the same record; Close is
	// idempotent so the second pass is a no-op.
	return r.manager.Close(ctx, id, "timeout")
}
