// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dotsetgreg/dotconnect/pkg/logger"
	"github.com/dotsetgreg/dotconnect/pkg/session"
)

// Config tunes transcript delivery to the downstream profile builder.
type Config struct {
	URL         string
	MaxAttempts int
	BaseBackoff time.Duration
	APIKey      string
}

// Envelope is the wire payload for one closed session, also used verbatim
// as the side-queue file format.
type Envelope struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	UserID     string            `json:"user_id"`
	Identity   string            `json:"identity"`
	Transcript []session.Message `json:"transcript"`
	QueuedAtMS int64             `json:"queued_at_ms"`
}

// Notifier delivers transcripts asynchronously with exponential backoff.
// Exhausted deliveries land in the side queue; nothing is ever dropped.
type Notifier struct {
	cfg       Config
	client    *http.Client
	sideQueue *SideQueue
	queue     chan Envelope

	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func NewNotifier(cfg Config, sideQueue *SideQueue) *Notifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}

	n := &Notifier{
		cfg:       cfg,
		client:    &http.Client{Timeout: 30 * time.Second},
		sideQueue: sideQueue,
		queue:     make(chan Envelope, 100),
		stopCh:    make(chan struct{}),
	}
	n.wg.Add(1)
	go n.runWorker()
	return n
}

// EnqueueTranscript accepts a transcript for async delivery. When the
// in-process queue is saturated the envelope goes straight to the side
// queue instead of blocking the closer.
func (n *Notifier) EnqueueTranscript(t session.Transcript) {
	env := Envelope{
		ID:         "ntf-" + uuid.NewString(),
		SessionID:  t.SessionID,
		UserID:     t.UserID,
		Identity:   t.Identity,
		Transcript: t.Messages,
		QueuedAtMS: time.Now().UnixMilli(),
	}

	select {
	case n.queue <- env:
	default:
		logger.WarnCF("notify", "Delivery queue full, spilling to side queue", map[string]interface{}{
			"session_id": env.SessionID,
		})
		if err := n.sideQueue.Write(env); err != nil {
			logger.ErrorCF("notify", "Side queue write failed", map[string]interface{}{
				"session_id": env.SessionID,
				"error":      err.Error(),
			})
		}
	}
}

// Stop shuts the worker down and spills any undelivered envelopes to the
// side queue.
func (n *Notifier) Stop() {
	n.closeOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()

		for {
			select {
			case env := <-n.queue:
				if err := n.sideQueue.Write(env); err != nil {
					logger.ErrorCF("notify", "Side queue write failed during shutdown", map[string]interface{}{
						"session_id": env.SessionID,
						"error":      err.Error(),
					})
				}
			default:
				return
			}
		}
	})
}

func (n *Notifier) runWorker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.stopCh:
			return
		case env := <-n.queue:
			n.process(env)
		}
	}
}

func (n *Notifier) process(env Envelope) {
	backoff := n.cfg.BaseBackoff
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		err := n.Deliver(context.Background(), env)
		if err == nil {
			logger.InfoCF("notify", "Transcript delivered", map[string]interface{}{
				"session_id": env.SessionID,
				"attempt":    attempt,
			})
			return
		}

		logger.WarnCF("notify", "Transcript delivery failed", map[string]interface{}{
			"session_id": env.SessionID,
			"attempt":    attempt,
			"error":      err.Error(),
		})

		if attempt == n.cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-n.stopCh:
			timer.Stop()
			if werr := n.sideQueue.Write(env); werr != nil {
				logger.ErrorCF("notify", "Side queue write failed", map[string]interface{}{
					"session_id": env.SessionID,
					"error":      werr.Error(),
				})
			}
			return
		case <-timer.C:
		}
		backoff *= 2
	}

	if err := n.sideQueue.Write(env); err != nil {
		logger.ErrorCF("notify", "Side queue write failed after retries", map[string]interface{}{
			"session_id": env.SessionID,
			"error":      err.Error(),
		})
		return
	}
	logger.WarnCF("notify", "Transcript side-queued after exhausting retries", map[string]interface{}{
		"session_id": env.SessionID,
		"attempts":   n.cfg.MaxAttempts,
	})
}

// Deliver makes one synchronous delivery attempt.
func (n *Notifier) Deliver(ctx context.Context, env Envelope) error {
	if n.cfg.URL == "" {
		return fmt.Errorf("notifier url not configured")
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal transcript envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.cfg.APIKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send transcript: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("transcript delivery status %d", resp.StatusCode)
	}
	return nil
}
