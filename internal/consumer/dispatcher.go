package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/metrics"
)

// Handler processes one delivery. Returning nil acks the record; an
// UnrecoverableError dead-letters it; any other error asks for redelivery.
type Handler interface {
	Handle(ctx context.Context, msg bus.Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg bus.Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, msg bus.Delivery) error {
	return f(ctx, msg)
}

// Dispatcher pulls one topic's stream and fans deliveries out to a fixed set
// of workers. A partition is always served by the same worker, so records of
// one partition key are handled in publish order.
type Dispatcher struct {
	source        bus.Consumer
	topic         string
	workerCount   int
	maxDeliveries int
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

func NewDispatcher(source bus.Consumer, topic string, workerCount, maxDeliveries int, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 5
	}
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	return &Dispatcher{
		source:        source,
		topic:         topic,
		workerCount:   workerCount,
		maxDeliveries: maxDeliveries,
		logger:        logger.With(slog.String("topic", topic)),
		metrics:       m,
	}
}

// Start blocks until ctx is cancelled or the stream ends. A stream that ends
// while ctx is still live is reported as an error.
func (d *Dispatcher) Start(ctx context.Context, handler Handler) error {
	deliveries, err := d.source.Consume(ctx, d.topic)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", d.topic, err)
	}

	lanes := make([]chan bus.Delivery, d.workerCount)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan bus.Delivery)
		wg.Add(1)
		go func(lane <-chan bus.Delivery) {
			defer wg.Done()
			for msg := range lane {
				d.handle(ctx, handler, msg)
			}
		}(lanes[i])
	}

	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s stream closed unexpectedly", d.topic)
			}
			select {
			case lanes[msg.Partition%d.workerCount] <- msg:
			case <-ctx.Done():
				_ = msg.Nack(true)
				return nil
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, handler Handler, msg bus.Delivery) {
	d.metrics.IncConsumed()
	err := d.safeHandle(ctx, handler, msg)

	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			d.logger.Warn("ack failed", slog.String("key", msg.Key), slog.Any("error", ackErr))
		}
	case IsUnrecoverable(err):
		d.metrics.IncDeadLettered()
		d.logger.Error("processing failed permanently, message dead-lettered", slog.String("key", msg.Key), slog.Any("error", err))
		_ = msg.Nack(false)
	case msg.Attempt < d.maxDeliveries:
		d.metrics.IncRetried()
		d.logger.Warn("processing failed, message requeued", slog.String("key", msg.Key), slog.Int("attempt", msg.Attempt), slog.Any("error", err))
		_ = msg.Nack(true)
	default:
		d.metrics.IncDeadLettered()
		d.logger.Error("processing failed, message dead-lettered", slog.String("key", msg.Key), slog.Int("attempt", msg.Attempt), slog.Any("error", err))
		_ = msg.Nack(false)
	}
}

// safeHandle reports a handler panic as a retryable error.
func (d *Dispatcher) safeHandle(ctx context.Context, handler Handler, msg bus.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("handler panic: ", r))
		}
	}()
	return handler.Handle(ctx, msg)
}
