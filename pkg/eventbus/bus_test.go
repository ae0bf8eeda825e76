package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := New(nil)

	var got []string
	bus.Subscribe("sync", func(e Event) { got = append(got, e.Name) })
	bus.Subscribe("sync", func(e Event) { got = append(got, e.Name) })

	bus.Publish("sync", Event{Name: "sync_started"})

	assert.Equal(t, []string{"sync_started", "sync_started"}, got)
}

func TestPublishIgnoresOtherTopics(t *testing.T) {
	bus := New(nil)

	called := false
	bus.Subscribe("sync", func(Event) { called = true })

	bus.Publish("connectivity", Event{Name: "online"})
	assert.False(t, called)
}

func TestUnsubscribe(t *testing.T) {
	bus := New(nil)

	calls := 0
	unsub := bus.Subscribe("sync", func(Event) { calls++ })

	bus.Publish("sync", Event{Name: "a"})
	unsub()
	bus.Publish("sync", Event{Name: "b"})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.SubscriberCount("sync"))
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := New(nil)

	var survived bool
	bus.Subscribe("sync", func(Event) { panic("observer bug") })
	bus.Subscribe("sync", func(Event) { survived = true })

	assert.NotPanics(t, func() {
		bus.Publish("sync", Event{Name: "sale_processed"})
	})
	assert.True(t, survived)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := New(nil)

	var mu sync.Mutex
	count := 0
	bus.Subscribe("sync", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish("sync", Event{Name: "tick"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, count)
}
