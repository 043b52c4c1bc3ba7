// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/dotsetgreg/dotconnect/pkg/bus"
	"github.com/dotsetgreg/dotconnect/pkg/intent"
	"github.com/dotsetgreg/dotconnect/pkg/logger"
	"github.com/dotsetgreg/dotconnect/pkg/session"
)

const unknownIdentityReply = "Hi! I don't recognize this number yet. Please sign up first and I'll be happy to chat."

// errorReply goes out whenever the pipeline fails past identity resolution.
// The sender always hears something back, even when the backend is down.
const errorReply = "Sorry, something went wrong on my end. Please try again in a moment."

// Dispatcher drains the inbound bus and runs the message pipeline:
// resolve the sender, open or reuse their session, route the message,
// and publish the reply. Keeping this off the webhook handler lets the
// gateway acknowledge the provider immediately.
type Dispatcher struct {
	bus       *bus.MessageBus
	manager   *session.Manager
	directory session.Directory
	router    *intent.Router

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewDispatcher(messageBus *bus.MessageBus, manager *session.Manager, directory session.Directory, router *intent.Router) *Dispatcher {
	return &Dispatcher{
		bus:       messageBus,
		manager:   manager,
		directory: directory,
		router:    router,
		stopCh:    make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	logger.InfoC("gateway", "Inbound dispatcher started")
}

func (d *Dispatcher) Stop() {
	d.closeOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	logger.InfoC("gateway", "Inbound dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-d.stopCh
		cancel()
	}()

	for {
		msg, ok := d.bus.ConsumeInbound(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		d.Handle(ctx, msg)
	}
}

// Handle processes one inbound message end to end.
func (d *Dispatcher) Handle(ctx context.Context, msg bus.InboundMessage) {
	profile, err := d.directory.ResolveUserID(ctx, msg.Identity)
	if err != nil {
		if errors.Is(err, session.ErrUnknownIdentity) {
			d.bus.PublishOutbound(bus.OutboundMessage{
				Identity: msg.Identity,
				Text:     unknownIdentityReply,
			})
			return
		}
		logger.ErrorCF("gateway", "Failed to resolve sender", map[string]interface{}{
			"identity": msg.Identity,
			"error":    err.Error(),
		})
		d.replyError(msg.Identity)
		return
	}

	rec, err := d.manager.GetOrCreate(ctx, msg.Identity)
	if err != nil {
		logger.ErrorCF("gateway", "Failed to open session", map[string]interface{}{
			"identity": msg.Identity,
			"error":    err.Error(),
		})
		d.replyError(msg.Identity)
		return
	}

	reply, err := d.router.Route(ctx, rec, profile, msg.Text)
	if err != nil {
		logger.ErrorCF("gateway", "Message routing failed", map[string]interface{}{
			"session_id": rec.ID,
			"error":      err.Error(),
		})
		d.replyError(msg.Identity)
		return
	}
	if reply == "" {
		return
	}

	d.bus.PublishOutbound(bus.OutboundMessage{
		Identity: msg.Identity,
		Text:     reply,
	})
}

func (d *Dispatcher) replyError(identity string) {
	d.bus.PublishOutbound(bus.OutboundMessage{
		Identity: identity,
		Text:     errorReply,
	})
}
