// Package eventbus implements in-process publish/subscribe over named
// topics, with cooperative delivery (a handler may suspend without starving
// others; a handler error never aborts the publish), a bounded per-topic
// ring buffer for history(topic, since), and an opaque subscription id for
// unsubscribe. Fan-in across subscriber goroutines uses
// golang.org/x/sync/errgroup, the same "one goroutine per unit of
// concurrent work" shape used for fan-in elsewhere in this codebase.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Event is one published message.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// Handler receives events for a subscribed topic. It must not block
// indefinitely: Publish waits for all handlers via an errgroup so the bus
// can log (not propagate) any handler panic/error, but a handler that never
// returns keeps that Publish call from ever returning.
type Handler func(Event)

// SubscriptionID is the opaque handle returned by Subscribe.
type SubscriptionID uuid.UUID

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus is an in-process, topic-addressed publish/subscribe hub with bounded
// per-topic history.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	history     map[string][]Event
	ringSize    int
	log         zerolog.Logger
}

// New builds a Bus whose per-topic ring buffer retains up to ringSize most
// recent events.
func New(ringSize int, log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]subscription),
		history:     make(map[string][]Event),
		ringSize:    ringSize,
		log:         log.With().Str("component", "eventbus").Logger(),
	}
}

// Subscribe registers handler for topic, returning an id that must be
// passed to Unsubscribe.
func (b *Bus) Subscribe(topic string, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := SubscriptionID(uuid.New())
	b.subscribers[topic] = append(b.subscribers[topic], subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a previously registered handler. It is a no-op if id
// is unknown or already removed.
func (b *Bus) Unsubscribe(topic string, id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every current subscriber of topic concurrently
// and records it in that topic's ring buffer. One handler's error (recovered
// from a panic, since Handler has no error return) is logged and never
// aborts delivery to the others.
func (b *Bus) Publish(topic string, payload any) {
	event := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}

	b.mu.Lock()
	b.appendHistory(topic, event)
	subs := make([]subscription, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	var g errgroup.Group
	for _, s := range subs {
		s := s
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Interface("panic", r).Str("topic", topic).Msg("event handler panicked")
				}
			}()
			s.handler(event)
			return nil
		})
	}
	_ = g.Wait() // handlers never return an error; this only waits for completion
}

func (b *Bus) appendHistory(topic string, event Event) {
	buf := append(b.history[topic], event)
	if b.ringSize > 0 && len(buf) > b.ringSize {
		buf = buf[len(buf)-b.ringSize:]
	}
	b.history[topic] = buf
}

// History returns every retained event for topic with Timestamp after since.
func (b *Bus) History(topic string, since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	all := b.history[topic]
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out
}
