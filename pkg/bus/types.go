package bus

// InboundMessage is one webhook delivery normalized for routing.
type InboundMessage struct {
	Identity   string
	Text       string
	MessageSID string
	Metadata   map[string]string
}

// OutboundMessage is one reply queued for channel delivery.
type OutboundMessage struct {
	Identity string
	Text     string
}

type MessageHandler func(msg InboundMessage)
