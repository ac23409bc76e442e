// Package bus publishes domain events to named topics and consumes them with
// partition-ordered, at-least-once delivery and explicit acknowledgment.
package bus

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"time"
)

// Topics on the wire. Each is keyed by the aggregate whose order matters.
const (
	TopicNotifications = "notification.events"
	TopicChat          = "chat.message.events"
	TopicSystem        = "system.notification.events"
)

// Topics lists every topic the service declares and consumes.
var Topics = []string{TopicNotifications, TopicChat, TopicSystem}

var (
	// ErrBufferFull is reported when the local publish buffer cannot take another record.
	ErrBufferFull = errors.New("bus: publish buffer full")
	// ErrClosed is reported for operations on a closed bus.
	ErrClosed = errors.New("bus: closed")
)

// Acknowledger settles a single delivery.
type Acknowledger interface {
	Ack() error
	// Nack gives the record back to the bus for redelivery when requeue is
	// true, or dead-letters it otherwise.
	Nack(requeue bool) error
}

// Delivery is one consumed record.
type Delivery struct {
	Topic       string
	Partition   int
	Key         string
	Body        []byte
	Redelivered bool
	// Attempt counts deliveries of this record, starting at 1.
	Attempt int

	acker Acknowledger
}

// NewDelivery builds a delivery settled through acker.
func NewDelivery(topic string, partition int, key string, body []byte, attempt int, acker Acknowledger) Delivery {
	return Delivery{
		Topic:       topic,
		Partition:   partition,
		Key:         key,
		Body:        body,
		Redelivered: attempt > 1,
		Attempt:     attempt,
		acker:       acker,
	}
}

func (d Delivery) Ack() error {
	if d.acker == nil {
		return nil
	}
	return d.acker.Ack()
}

func (d Delivery) Nack(requeue bool) error {
	if d.acker == nil {
		return nil
	}
	return d.acker.Nack(requeue)
}

// Publisher enqueues records without blocking the caller. The returned
// channel receives exactly one value: the outcome of the publish.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) <-chan error
}

// Consumer streams a topic's records. Within one partition records arrive in
// publish order.
type Consumer interface {
	Consume(ctx context.Context, topic string) (<-chan Delivery, error)
}

type Bus interface {
	Publisher
	Consumer
	Close() error
}

// Partition maps a partition key onto one of n partitions.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func result(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

// PublishAndForget publishes without letting a bus failure reach the caller;
// failures are only logged.
func PublishAndForget(ctx context.Context, pub Publisher, logger *slog.Logger, topic, key string, payload interface{}) {
	res := pub.Publish(ctx, topic, key, payload)
	go func() {
		select {
		case err := <-res:
			if err != nil {
				logger.Error("publish failed", slog.String("topic", topic), slog.String("key", key), slog.Any("error", err))
			}
		case <-time.After(30 * time.Second):
			logger.Warn("publish outcome unknown", slog.String("topic", topic), slog.String("key", key))
		}
	}()
}

// PublishAndWait publishes and waits for the outcome, bounded by ctx.
func PublishAndWait(ctx context.Context, pub Publisher, topic, key string, payload interface{}) error {
	select {
	case err := <-pub.Publish(ctx, topic, key, payload):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
