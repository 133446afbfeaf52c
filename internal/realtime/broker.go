// Package realtime is the in-process change feed keyed by order id and by
// courier id. Delivery is best-effort: a subscriber whose buffer is full
// misses events and is expected to resync from the store.
package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/models"
)

// Unsubscribe releases a subscription. Calling it more than once is safe.
type Unsubscribe func()

// Broker fans order changes and location samples out to typed handlers.
type Broker struct {
	orders    *topic[models.OrderChange]
	couriers  *topic[models.LocationSample]
	buffer    int
	log       logger.ILogger
	dropped   atomic.Int64
	closeOnce sync.Once
}

// Option configures a Broker.
type Option func(*Broker)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger used for drop warnings.
func WithLogger(l logger.ILogger) Option {
	return func(b *Broker) { b.log = l }
}

// NewBroker returns an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		orders:   newTopic[models.OrderChange](),
		couriers: newTopic[models.LocationSample](),
		buffer:   32,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubscribeOrder calls fn for every change of orderID, in publish order.
func (b *Broker) SubscribeOrder(orderID string, fn func(models.OrderChange)) Unsubscribe {
	return b.orders.subscribe(orderID, b.buffer, fn)
}

// SubscribeCourier calls fn for every location sample of courierID.
func (b *Broker) SubscribeCourier(courierID string, fn func(models.LocationSample)) Unsubscribe {
	return b.couriers.subscribe(courierID, b.buffer, fn)
}

// PublishOrder delivers a committed order change. It never blocks.
func (b *Broker) PublishOrder(c models.OrderChange) {
	if c.Order == nil {
		return
	}
	if n := b.orders.publish(c.Order.ID, c); n > 0 {
		b.dropped.Add(int64(n))
		b.log.Warning("order change dropped for slow subscribers",
			logger.String("order_id", c.Order.ID), logger.Int("dropped", n))
	}
}

// PublishLocation delivers a location sample. It never blocks.
func (b *Broker) PublishLocation(s models.LocationSample) {
	if n := b.couriers.publish(s.CourierID, s); n > 0 {
		b.dropped.Add(int64(n))
		b.log.Debug("location sample dropped for slow subscribers",
			logger.String("courier_id", s.CourierID), logger.Int("dropped", n))
	}
}

// OrderSubscribers reports how many handlers watch orderID.
func (b *Broker) OrderSubscribers(orderID string) int { return b.orders.count(orderID) }

// CourierSubscribers reports how many handlers watch courierID.
func (b *Broker) CourierSubscribers(courierID string) int { return b.couriers.count(courierID) }

// Dropped is the number of events discarded because a subscriber was full.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }

// Close stops every subscriber goroutine.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		b.orders.closeAll()
		b.couriers.closeAll()
	})
}

type topic[T any] struct {
	mu     sync.Mutex
	next   uint64
	subs   map[string]map[uint64]*subscriber[T]
	closed bool
}

func newTopic[T any]() *topic[T] {
	return &topic[T]{subs: make(map[string]map[uint64]*subscriber[T])}
}

func (t *topic[T]) subscribe(key string, buffer int, fn func(T)) Unsubscribe {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return func() {}
	}
	t.next++
	id := t.next
	s := newSubscriber(buffer, fn)
	if t.subs[key] == nil {
		t.subs[key] = make(map[uint64]*subscriber[T])
	}
	t.subs[key][id] = s
	return func() {
		t.mu.Lock()
		if m := t.subs[key]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(t.subs, key)
			}
		}
		t.mu.Unlock()
		s.stop()
	}
}

// publish returns the number of subscribers that missed v.
func (t *topic[T]) publish(key string, v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for _, s := range t.subs[key] {
		if !s.offer(v) {
			dropped++
		}
	}
	return dropped
}

func (t *topic[T]) count(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[key])
}

func (t *topic[T]) closeAll() {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[string]map[uint64]*subscriber[T])
	t.closed = true
	t.mu.Unlock()
	for _, m := range subs {
		for _, s := range m {
			s.stop()
		}
	}
}

type subscriber[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

func newSubscriber[T any](buffer int, fn func(T)) *subscriber[T] {
	s := &subscriber[T]{ch: make(chan T, buffer), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-s.done:
				return
			case v := <-s.ch:
				select {
				case <-s.done:
					return
				default:
				}
				fn(v)
			}
		}
	}()
	return s
}

func (s *subscriber[T]) offer(v T) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}
