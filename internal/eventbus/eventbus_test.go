package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := New(10, zerolog.Nop())
	var mu sync.Mutex
	var received []any

	b.Subscribe("instance.created", func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.Payload)
	})

	b.Publish("instance.created", "id-1")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "id-1", received[0])
}

func TestPublishNoSubscribersIsNoop(t *testing.T) {
	b := New(10, zerolog.Nop())
	assert.NotPanics(t, func() { b.Publish("nothing.listens", 1) })
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(10, zerolog.Nop())
	var count int
	var mu sync.Mutex
	id := b.Subscribe("topic", func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	b.Publish("topic", nil)
	b.Unsubscribe("topic", id)
	b.Publish("topic", nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestHandlerPanicDoesNotStarveOthers(t *testing.T) {
	b := New(10, zerolog.Nop())
	var mu sync.Mutex
	var secondRan bool

	b.Subscribe("topic", func(e Event) { panic("boom") })
	b.Subscribe("topic", func(e Event) {
		mu.Lock()
		secondRan = true
		mu.Unlock()
	})

	assert.NotPanics(t, func() { b.Publish("topic", nil) })

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, secondRan)
}

func TestHistoryRingBufferBound(t *testing.T) {
	b := New(2, zerolog.Nop())
	b.Publish("topic", 1)
	b.Publish("topic", 2)
	b.Publish("topic", 3)

	events := b.History("topic", time.Time{})
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Payload)
	assert.Equal(t, 3, events[1].Payload)
}

func TestHistorySinceFilter(t *testing.T) {
	b := New(10, zerolog.Nop())
	b.Publish("topic", 1)
	cutoff := time.Now()
	time.Sleep(time.Millisecond)
	b.Publish("topic", 2)

	events := b.History("topic", cutoff)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Payload)
}
