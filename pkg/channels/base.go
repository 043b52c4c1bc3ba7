// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package channels

import (
	"context"

	"github.com/dotsetgreg/dotconnect/pkg/bus"
)

// Channel is one outbound messaging surface.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}
