package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher publishes presence events to Topic, keyed by user id
// so Kafka's partitioner gives per-user total ordering.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaPublisher dials brokers and builds a producer for Topic.
// Dial retry uses the same exponential-backoff shape the directory's
// Redis client uses, bounded by retryLimit.
func NewKafkaPublisher(ctx context.Context, brokers []string, retryLimit time.Duration, log *zap.Logger) (*KafkaPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = retryLimit

	var lastErr error
	err := backoff.Retry(func() error {
		conn, dialErr := kafka.DialContext(ctx, "tcp", brokers[0])
		if dialErr != nil {
			lastErr = dialErr
			return dialErr
		}
		return conn.Close()
	}, retry)
	if err != nil {
		return nil, fmt.Errorf("bus: dial kafka: %w", lastErr)
	}

	return &KafkaPublisher{writer: writer, log: log}, nil
}

// PublishPresence publishes evt and does not retry on failure: each
// event is written at most once by the publisher, so a dropped
// online/offline event is an accepted, logged loss, not a condition to
// retry (retry applies only to the initial broker connection,
// established in NewKafkaPublisher).
func (p *KafkaPublisher) PublishPresence(ctx context.Context, evt PresenceEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("bus: marshal presence event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(evt.UserID),
		Value: payload,
		Time:  time.UnixMilli(evt.Timestamp),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("bus: publish failed, event dropped",
			zap.String("userId", evt.UserID),
			zap.String("action", evt.Action),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads Topic as a named consumer group. One instance of
// KafkaConsumer per presence node, group id == that node's instance
// id, gives the group-per-node broadcast fan-out the bus design
// requires.
type KafkaConsumer struct {
	reader *kafka.Reader
	log    *zap.Logger
}

// NewKafkaConsumer builds a consumer group reader for Topic.
func NewKafkaConsumer(brokers []string, groupID string, log *zap.Logger) *KafkaConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   Topic,
	})
	return &KafkaConsumer{reader: reader, log: log}
}

// Consume reads messages until ctx is cancelled, decoding each into a
// PresenceEvent and invoking handle. Malformed payloads are logged and
// skipped, never fatal to the loop.
func (c *KafkaConsumer) Consume(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("bus: read failed", zap.Error(err))
			continue
		}

		var evt PresenceEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			c.log.Warn("bus: malformed presence event, skipping", zap.Error(err))
			continue
		}

		handle(evt)
	}
}

// Close stops the consumer group.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
