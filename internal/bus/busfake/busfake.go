// Package busfake provides an in-memory stand-in for the Kafka-backed
// event bus, used by coordinator-free presence node tests that need
// two or more nodes to observe each other's presence events without a
// real broker.
package busfake

import (
	"context"
	"sync"

	"github.com/fleetcontrolsio/presencehub/internal/bus"
)

// Broker fans every published event out to every subscribed consumer,
// mirroring the one-consumer-group-per-instance broadcast the real
// Kafka topic provides.
type Broker struct {
	mu          sync.Mutex
	subscribers []chan bus.PresenceEvent
	closed      bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{}
}

// Publisher returns a bus.Publisher bound to this broker.
func (b *Broker) Publisher() bus.Publisher {
	return &fakePublisher{broker: b}
}

// Consumer returns a bus.Consumer subscribed to this broker. groupID is
// accepted for interface parity but unused: the fake always delivers
// to every subscriber, the same way distinct Kafka consumer groups
// each get their own copy of every message.
func (b *Broker) Consumer(groupID string) bus.Consumer {
	ch := make(chan bus.PresenceEvent, 256)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return &fakeConsumer{broker: b, ch: ch}
}

func (b *Broker) publish(evt bus.PresenceEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			// Slow consumer: drop rather than block the publisher,
			// consistent with the bus's at-least-once-but-lossy-under-
			// backpressure contract for this in-memory stand-in.
		}
	}
}

type fakePublisher struct {
	broker *Broker
}

func (p *fakePublisher) PublishPresence(ctx context.Context, evt bus.PresenceEvent) error {
	p.broker.publish(evt)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	broker *Broker
	ch     chan bus.PresenceEvent
}

func (c *fakeConsumer) Consume(ctx context.Context, handle bus.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-c.ch:
			handle(evt)
		}
	}
}

func (c *fakeConsumer) Close() error {
	return nil
}
