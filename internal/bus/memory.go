package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBus is an in-process bus for single-node deployments and tests.
//
// Publish never blocks: a full partition buffer fails the publish with
// ErrBufferFull. A nacked record with requeue is redelivered after the
// configured delay; without requeue it moves to the dead-letter list.
type MemoryBus struct {
	partitions int
	buffer     int
	delay      time.Duration

	mu     sync.Mutex
	topics map[string][]chan Delivery
	dead   []Delivery

	closed atomic.Bool
	done   chan struct{}
}

func NewMemoryBus(partitions, buffer int, redeliveryDelay time.Duration) *MemoryBus {
	if partitions <= 0 {
		partitions = 1
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryBus{
		partitions: partitions,
		buffer:     buffer,
		delay:      redeliveryDelay,
		topics:     make(map[string][]chan Delivery),
		done:       make(chan struct{}),
	}
}

func (b *MemoryBus) queues(topic string) []chan Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	qs, ok := b.topics[topic]
	if !ok {
		qs = make([]chan Delivery, b.partitions)
		for i := range qs {
			qs[i] = make(chan Delivery, b.buffer)
		}
		b.topics[topic] = qs
	}
	return qs
}

func (b *MemoryBus) Publish(_ context.Context, topic, key string, payload interface{}) <-chan error {
	if b.closed.Load() {
		return result(ErrClosed)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return result(fmt.Errorf("encoding %s record: %w", topic, err))
	}
	p := Partition(key, b.partitions)
	d := Delivery{Topic: topic, Partition: p, Key: key, Body: body, Attempt: 1}
	d.acker = &memoryAcker{bus: b, delivery: d}

	select {
	case b.queues(topic)[p] <- d:
		return result(nil)
	default:
		return result(ErrBufferFull)
	}
}

// Consume merges the topic's partitions into one stream. Each partition is
// forwarded by its own goroutine, so per-partition order is kept.
func (b *MemoryBus) Consume(ctx context.Context, topic string) (<-chan Delivery, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	out := make(chan Delivery)
	var wg sync.WaitGroup
	for _, q := range b.queues(topic) {
		wg.Add(1)
		go func(q chan Delivery) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-b.done:
					return
				case d := <-q:
					select {
					case out <- d:
					case <-ctx.Done():
						b.putBack(q, d)
						return
					case <-b.done:
						return
					}
				}
			}
		}(q)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (b *MemoryBus) putBack(q chan Delivery, d Delivery) {
	select {
	case q <- d:
	default:
	}
}

func (b *MemoryBus) redeliver(d Delivery) {
	next := d
	next.Attempt++
	next.Redelivered = true
	next.acker = &memoryAcker{bus: b, delivery: next}
	q := b.queues(d.Topic)[d.Partition]

	time.AfterFunc(b.delay, func() {
		if b.closed.Load() {
			return
		}
		select {
		case q <- next:
		case <-b.done:
		}
	})
}

func (b *MemoryBus) deadLetter(d Delivery) {
	b.mu.Lock()
	b.dead = append(b.dead, d)
	b.mu.Unlock()
}

// DeadLetters returns records that were nacked without requeue.
func (b *MemoryBus) DeadLetters() []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Delivery(nil), b.dead...)
}

func (b *MemoryBus) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
	return nil
}

type memoryAcker struct {
	bus      *MemoryBus
	delivery Delivery
	settled  atomic.Bool
}

func (a *memoryAcker) Ack() error {
	if !a.settled.CompareAndSwap(false, true) {
		return fmt.Errorf("bus: delivery already settled")
	}
	return nil
}

func (a *memoryAcker) Nack(requeue bool) error {
	if !a.settled.CompareAndSwap(false, true) {
		return fmt.Errorf("bus: delivery already settled")
	}
	if requeue {
		a.bus.redeliver(a.delivery)
	} else {
		a.bus.deadLetter(a.delivery)
	}
	return nil
}
