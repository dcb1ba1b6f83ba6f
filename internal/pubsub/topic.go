package pubsub

import (
	"errors"
	"sync"
	"sync/atomic"
)

const DefaultCapacity = 100

var ErrTopicClosed = errors.New("topic closed")

type Topic[T any] struct {
	name     string
	capacity int

	mu        sync.Mutex
	subs      map[uint64]*Subscription[T]
	nextID    uint64
	closed    bool
	published uint64
}

type Subscription[T any] struct {
	id      uint64
	ch      chan T
	dropped atomic.Uint64
	topic   *Topic[T]
}

func NewTopic[T any](name string, capacity int) *Topic[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Topic[T]{
		name:     name,
		capacity: capacity,
		subs:     make(map[uint64]*Subscription[T]),
	}
}

func (t *Topic[T]) Name() string {
	return t.name
}

func (t *Topic[T]) Subscribe() (*Subscription[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTopicClosed
	}

	t.nextID++
	sub := &Subscription[T]{
		id:    t.nextID,
		ch:    make(chan T, t.capacity),
		topic: t,
	}
	t.subs[sub.id] = sub

	return sub, nil
}

func (t *Topic[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[sub.id]; !ok {
		return
	}
	delete(t.subs, sub.id)
	close(sub.ch)
}

// Publish delivers v to every subscriber and returns how many received it.
// Publish holds the topic lock for the whole fan-out, which makes it the only
// sender on every subscriber channel and keeps drop-oldest race free.
func (t *Topic[T]) Publish(v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}

	t.published++
	for _, sub := range t.subs {
		sub.deliver(v)
	}

	return len(t.subs)
}

func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true

	for id, sub := range t.subs {
		delete(t.subs, id)
		close(sub.ch)
	}
}

func (t *Topic[T]) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Topic[T]) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *Topic[T]) Published() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.published
}

func (s *Subscription[T]) deliver(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}

		// queue full, make room by discarding the oldest item
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// C is closed when the subscription is cancelled or the topic is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// TakeDropped returns the number of items discarded since the previous call.
func (s *Subscription[T]) TakeDropped() uint64 {
	return s.dropped.Swap(0)
}

func (s *Subscription[T]) Unsubscribe() {
	s.topic.Unsubscribe(s)
}
