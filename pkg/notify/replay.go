package notify

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/dotconnect/pkg/logger"
)

// Replayer periodically re-attempts delivery of side-queued transcripts on
// a cron schedule.
type Replayer struct {
	schedule  string
	notifier  *Notifier
	sideQueue *SideQueue
	cron      *gronx.Gronx

	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func NewReplayer(schedule string, notifier *Notifier, sideQueue *SideQueue) *Replayer {
	return &Replayer{
		schedule:  schedule,
		notifier:  notifier,
		sideQueue: sideQueue,
		cron:      gronx.New(),
		stopCh:    make(chan struct{}),
	}
}

func (r *Replayer) Start() {
	if r.schedule == "" || !r.cron.IsValid(r.schedule) {
		logger.WarnCF("notify", "Replay schedule invalid, replayer disabled", map[string]interface{}{
			"schedule": r.schedule,
		})
		return
	}
	r.wg.Add(1)
	go r.run()
}

func (r *Replayer) Stop() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *Replayer) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			due, err := r.cron.IsDue(r.schedule, now)
			if err != nil || !due {
				continue
			}
			r.ReplayOnce(context.Background())
		}
	}
}

// ReplayOnce makes a single delivery attempt per parked envelope. Files
// that deliver are removed; the rest wait for the next pass.
func (r *Replayer) ReplayOnce(ctx context.Context) {
	paths, err := r.sideQueue.List()
	if err != nil {
		logger.ErrorCF("notify", "Side queue listing failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if len(paths) == 0 {
		return
	}

	delivered := 0
	for _, path := range paths {
		env, err := r.sideQueue.Read(path)
		if err != nil {
			logger.WarnCF("notify", "Skipping unreadable side queue file", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}

		if err := r.notifier.Deliver(ctx, env); err != nil {
			logger.DebugCF("notify", "Replay attempt failed", map[string]interface{}{
				"session_id": env.SessionID,
				"error":      err.Error(),
			})
			continue
		}

		if err := r.sideQueue.Remove(path); err != nil {
			logger.WarnCF("notify", "Failed to remove replayed file", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		delivered++
	}

	if delivered > 0 {
		logger.InfoCF("notify", "Replayed side-queued transcripts", map[string]interface{}{
			"delivered": delivered,
			"remaining": len(paths) - delivered,
		})
	}
}
