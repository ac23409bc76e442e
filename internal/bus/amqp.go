package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/retry"
)

const (
	headerPartitionKey = "x-partition-key"
	headerAttempt      = "x-attempt"
)

var errConfirmsClosed = errors.New("bus: confirm channel closed")

// AMQPConfig describes the RabbitMQ topology.
type AMQPConfig struct {
	Exchange        string
	DeadLetterQueue string
	Partitions      int
	Prefetch        int
	Buffer          int
	RedeliveryDelay time.Duration
	Retry           retry.Config
}

func (c *AMQPConfig) applyDefaults() {
	if c.Exchange == "" {
		c.Exchange = "notifications.direct"
	}
	if c.Partitions <= 0 {
		c.Partitions = 4
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 20
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.RedeliveryDelay <= 0 {
		c.RedeliveryDelay = 5 * time.Second
	}
}

// AMQPBus implements Bus on RabbitMQ. Every topic is split into Partitions
// durable queues "<topic>.p<i>" bound to routing key "<topic>.<i>"; a record
// goes to the partition chosen by its key. Retryable nacks are parked in a
// per-partition TTL queue that dead-letters back into the partition.
type AMQPBus struct {
	conn   *amqp.Connection
	cfg    AMQPConfig
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	pending chan outbound
	pubDone chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

type outbound struct {
	routingKey string
	key        string
	body       []byte
	result     chan error
}

// DialAMQP connects to url and declares the topology.
func DialAMQP(url string, cfg AMQPConfig, logger *slog.Logger) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	b, err := NewAMQPBus(conn, cfg, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

func NewAMQPBus(conn *amqp.Connection, cfg AMQPConfig, logger *slog.Logger) (*AMQPBus, error) {
	cfg.applyDefaults()
	b := &AMQPBus{
		conn:    conn,
		cfg:     cfg,
		logger:  logger,
		pending: make(chan outbound, cfg.Buffer),
		pubDone: make(chan struct{}),
	}
	if err := b.setupTopology(); err != nil {
		return nil, fmt.Errorf("topology setup failed: %w", err)
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	go b.runPublisher()
	return b, nil
}

func queueName(topic string, partition int) string {
	return fmt.Sprintf("%s.p%d", topic, partition)
}

func routingKey(topic string, partition int) string {
	return fmt.Sprintf("%s.%d", topic, partition)
}

func (b *AMQPBus) setupTopology() error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		b.cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}

	if b.cfg.DeadLetterQueue != "" {
		if _, err := ch.QueueDeclare(b.cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return err
		}
	}

	for _, topic := range Topics {
		for p := 0; p < b.cfg.Partitions; p++ {
			args := amqp.Table{}
			if b.cfg.DeadLetterQueue != "" {
				args["x-dead-letter-exchange"] = ""
				args["x-dead-letter-routing-key"] = b.cfg.DeadLetterQueue
			}
			name := queueName(topic, p)
			if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
				return err
			}
			if err := ch.QueueBind(name, routingKey(topic, p), b.cfg.Exchange, false, nil); err != nil {
				return err
			}

			retryArgs := amqp.Table{
				"x-message-ttl":             int32(b.cfg.RedeliveryDelay / time.Millisecond),
				"x-dead-letter-exchange":    b.cfg.Exchange,
				"x-dead-letter-routing-key": routingKey(topic, p),
			}
			if _, err := ch.QueueDeclare(name+".retry", true, false, false, false, retryArgs); err != nil {
				return err
			}
		}
	}
	return nil
}

// Publish enqueues the record into the local buffer and returns at once.
func (b *AMQPBus) Publish(_ context.Context, topic, key string, payload interface{}) <-chan error {
	body, err := json.Marshal(payload)
	if err != nil {
		return result(fmt.Errorf("encoding %s record: %w", topic, err))
	}
	out := outbound{
		routingKey: routingKey(topic, Partition(key, b.cfg.Partitions)),
		key:        key,
		body:       body,
		result:     make(chan error, 1),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return result(ErrClosed)
	}
	select {
	case b.pending <- out:
		return out.result
	default:
		return result(ErrBufferFull)
	}
}

func (b *AMQPBus) openPublishChannel() (*amqp.Channel, chan amqp.Confirmation, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return ch, confirms, nil
}

// runPublisher drains the buffer one record at a time, waiting for the broker
// confirm before reporting the outcome.
func (b *AMQPBus) runPublisher() {
	defer close(b.pubDone)

	var (
		ch       *amqp.Channel
		confirms chan amqp.Confirmation
	)
	defer func() {
		if ch != nil {
			_ = ch.Close()
		}
	}()

	for out := range b.pending {
		msg := amqp.Publishing{
			Headers:      amqp.Table{headerPartitionKey: out.key, headerAttempt: int32(1)},
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         out.body,
		}
		err := retry.Do(b.ctx, b.cfg.Retry, func() error {
			if ch == nil {
				var err error
				if ch, confirms, err = b.openPublishChannel(); err != nil {
					return err
				}
			}
			if err := ch.Publish(b.cfg.Exchange, out.routingKey, false, false, msg); err != nil {
				_ = ch.Close()
				ch = nil
				return err
			}
			conf, ok := <-confirms
			if !ok {
				ch = nil
				return errConfirmsClosed
			}
			if !conf.Ack {
				return fmt.Errorf("broker rejected publish to %s", out.routingKey)
			}
			return nil
		})
		out.result <- err
	}
}

// Consume opens one channel per partition and merges them into one stream.
func (b *AMQPBus) Consume(ctx context.Context, topic string) (<-chan Delivery, error) {
	out := make(chan Delivery)
	var (
		wg     sync.WaitGroup
		opened []*amqp.Channel
	)
	for p := 0; p < b.cfg.Partitions; p++ {
		ch, err := b.conn.Channel()
		if err != nil {
			closeChannels(opened)
			return nil, err
		}
		opened = append(opened, ch)
		if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
			closeChannels(opened)
			return nil, fmt.Errorf("qos configuration failed: %w", err)
		}
		msgs, err := ch.Consume(
			queueName(topic, p),
			"",
			false, // autoAck
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			closeChannels(opened)
			return nil, err
		}

		wg.Add(1)
		go func(p int, ch *amqp.Channel, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			defer ch.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					key, _ := msg.Headers[headerPartitionKey].(string)
					attempt := deliveryAttempts(&msg)
					acker := &amqpAcker{
						msg:        msg,
						ch:         ch,
						retryQueue: queueName(topic, p) + ".retry",
						key:        key,
						attempt:    attempt,
					}
					select {
					case out <- NewDelivery(topic, p, key, msg.Body, attempt, acker):
					case <-ctx.Done():
						_ = msg.Nack(false, true)
						return
					}
				}
			}
		}(p, ch, msgs)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func closeChannels(chs []*amqp.Channel) {
	for _, ch := range chs {
		_ = ch.Close()
	}
}

// Close stops accepting publishes, flushes the buffer and closes the connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.pending)
	b.mu.Unlock()

	select {
	case <-b.pubDone:
	case <-time.After(10 * time.Second):
		b.logger.Warn("publish buffer not flushed before shutdown")
	}
	b.cancel()
	return b.conn.Close()
}

type amqpAcker struct {
	msg        amqp.Delivery
	ch         *amqp.Channel
	retryQueue string
	key        string
	attempt    int
}

func (a *amqpAcker) Ack() error {
	return a.msg.Ack(false)
}

// Nack with requeue parks a copy in the retry queue, whose TTL provides the
// redelivery backoff, then acks the original. Without requeue the record is
// rejected into the dead-letter queue.
func (a *amqpAcker) Nack(requeue bool) error {
	if !requeue {
		return a.msg.Reject(false)
	}
	err := a.ch.Publish("", a.retryQueue, false, false, amqp.Publishing{
		Headers:      amqp.Table{headerPartitionKey: a.key, headerAttempt: int32(a.attempt + 1)},
		ContentType:  a.msg.ContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         a.msg.Body,
	})
	if err != nil {
		return a.msg.Nack(false, true)
	}
	return a.msg.Ack(false)
}

func deliveryAttempts(msg *amqp.Delivery) int {
	attempts := 1
	if msg.Headers != nil {
		switch v := msg.Headers[headerAttempt].(type) {
		case int32:
			attempts = int(v)
		case int64:
			attempts = int(v)
		case int:
			attempts = v
		}
		if raw, ok := msg.Headers["x-death"]; ok {
			if deaths, ok := raw.([]interface{}); ok && len(deaths) > 0 {
				if table, ok := deaths[0].(amqp.Table); ok {
					if count, ok := table["count"].(int64); ok && int(count)+1 > attempts {
						attempts = int(count) + 1
					}
				}
			}
		}
	}
	if msg.Redelivered && attempts < 2 {
		attempts = 2
	}
	return attempts
}
