// Package bus provides the in-process publish/subscribe transport that
// connects sensors, workers, the supervisor and the dashboard.
//
// Delivery is at-most-once: a subscriber that cannot keep up has messages
// dropped rather than queued without bound, and nothing is retransmitted.
// Ordering is FIFO per topic per publisher; no ordering is guaranteed
// across distinct topics.
package bus

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrClosed             = errors.New("bus: closed")
	ErrSubscriberExists   = errors.New("bus: subscriber id already registered")
	ErrSubscriberNotFound = errors.New("bus: subscriber not found")
)

// Message is one published payload with its routing topic.
type Message struct {
	Topic    string
	Payload  []byte
	Received time.Time
}

// Stats tracks per-subscriber delivery accounting.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}

// Bus distributes messages to topic subscribers.
type Bus interface {
	// Publish delivers payload to every subscription matching topic.
	// It never blocks: slow subscribers drop.
	Publish(topic string, payload []byte)

	// Subscribe registers a subscription for pattern. The pattern is either
	// an exact topic or a prefix ending in "/*" which matches one or more
	// trailing segments ("adas/health/*" matches "adas/health/lane").
	Subscribe(id, pattern string, buffer int) (*Subscription, error)

	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(id string) error

	// Stats returns delivery accounting for a subscriber.
	Stats(id string) (Stats, error)

	// Close tears down all subscriptions.
	Close()
}

// Subscription is one subscriber's inbound message stream.
type Subscription struct {
	id      string
	pattern string
	ch      chan Message

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// C returns the receive channel. It is closed on Unsubscribe or bus Close.
func (s *Subscription) C() <-chan Message { return s.ch }

// ID returns the subscriber id.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the topic pattern this subscription matches.
func (s *Subscription) Pattern() string { return s.pattern }

func (s *Subscription) matches(topic string) bool {
	if prefix, ok := strings.CutSuffix(s.pattern, "/*"); ok {
		return strings.HasPrefix(topic, prefix+"/")
	}
	return s.pattern == topic
}

// memoryBus is the single-process Bus implementation.
type memoryBus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// New creates an in-process Bus.
func New() Bus {
	return &memoryBus{subs: make(map[string]*Subscription)}
}

func (b *memoryBus) Publish(topic string, payload []byte) {
	msg := Message{Topic: topic, Payload: payload, Received: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- msg:
			sub.delivered.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

func (b *memoryBus) Subscribe(id, pattern string, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.subs[id]; exists {
		return nil, ErrSubscriberExists
	}

	sub := &Subscription{
		id:      id,
		pattern: pattern,
		ch:      make(chan Message, buffer),
	}
	b.subs[id] = sub
	return sub, nil
}

func (b *memoryBus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subs[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subs, id)
	close(sub.ch)
	return nil
}

func (b *memoryBus) Stats(id string) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subs[id]
	if !exists {
		return Stats{}, ErrSubscriberNotFound
	}
	return Stats{
		Delivered: sub.delivered.Load(),
		Dropped:   sub.dropped.Load(),
	}, nil
}

func (b *memoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Ensure memoryBus implements Bus
var _ Bus = (*memoryBus)(nil)
