package bus

import "context"

// Publisher publishes presence transitions keyed by user id.
type Publisher interface {
	PublishPresence(ctx context.Context, evt PresenceEvent) error
	Close() error
}

// Handler processes one delivered presence event. Handlers must be
// idempotent at the set level: applying the same online/offline event
// twice must leave state unchanged the second time.
type Handler func(PresenceEvent)

// Consumer reads the bus as a named consumer group. The presence plane
// runs one consumer group per instance id so every node sees every
// message (see package doc and design notes on broadcast fan-out).
type Consumer interface {
	Consume(ctx context.Context, handle Handler) error
	Close() error
}
