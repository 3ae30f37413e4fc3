package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ASpec-Commerce/internal/decision"
)

func analysis(thought string) Event {
	return New(decision.KindProcurement, TypeAnalysis, Payload{Thought: thought})
}

func TestAppendDeliversSynchronouslyInOrder(t *testing.T) {
	log := NewLog()
	var got []string
	log.Subscribe(func(e Event) { got = append(got, "a:"+e.Payload.Thought) })
	log.Subscribe(func(e Event) { got = append(got, "b:"+e.Payload.Thought) })

	log.Append(analysis("one"))
	assert.Equal(t, []string{"a:one", "b:one"}, got)

	log.Append(analysis("two"))
	assert.Equal(t, []string{"a:one", "b:one", "a:two", "b:two"}, got)
	assert.Equal(t, 2, log.Len())
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a, b := analysis("x"), analysis("x")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, decision.KindProcurement, a.Agent)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	log := NewLog()
	count := 0
	unsubscribe := log.Subscribe(func(Event) { count++ })
	log.Append(analysis("1"))
	unsubscribe()
	unsubscribe()
	log.Append(analysis("2"))

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, log.Subscribers())
}

func TestPanickingObserverDoesNotAbortDelivery(t *testing.T) {
	log := NewLog()
	delivered := false
	log.Subscribe(func(Event) { panic("observer bug") })
	log.Subscribe(func(Event) { delivered = true })

	assert.NotPanics(t, func() { log.Append(analysis("x")) })
	assert.True(t, delivered)
	assert.Equal(t, 1, log.Len())
}

func TestRecentAllAndClear(t *testing.T) {
	log := NewLog()
	for _, s := range []string{"1", "2", "3", "4"} {
		log.Append(analysis(s))
	}

	recent := log.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].Payload.Thought)
	assert.Equal(t, "4", recent[1].Payload.Thought)
	assert.Len(t, log.Recent(10), 4)
	assert.Empty(t, log.Recent(0))

	all := log.All()
	all[0].Payload.Thought = "mutated"
	assert.Equal(t, "1", log.All()[0].Payload.Thought)

	log.Clear()
	assert.Empty(t, log.All())
	assert.Empty(t, log.Recent(5))
	assert.Equal(t, 0, log.Len())

	log.Append(analysis("5"))
	assert.Len(t, log.All(), 1)
}

func TestCapacityDropsOldest(t *testing.T) {
	log := NewLog(WithCapacity(3))
	for _, s := range []string{"1", "2", "3", "4", "5"} {
		log.Append(analysis(s))
	}
	all := log.All()
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].Payload.Thought)
	assert.Equal(t, "5", all[2].Payload.Thought)
}

func TestConcurrentAppendAndSubscribe(t *testing.T) {
	log := NewLog()
	var mu sync.Mutex
	seen := 0
	log.Subscribe(func(Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				log.Append(analysis("c"))
				_ = log.Recent(5)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, log.Len())
	assert.Equal(t, 800, seen)
}

func TestConcurrentAppendDeliversInStoredOrder(t *testing.T) {
	log := NewLog()
	var delivered []string
	log.Subscribe(func(e Event) { delivered = append(delivered, e.ID) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				log.Append(analysis("ordered"))
			}
		}()
	}
	wg.Wait()

	all := log.All()
	stored := make([]string, 0, len(all))
	for _, e := range all {
		stored = append(stored, e.ID)
	}
	require.Len(t, delivered, 800)
	assert.Equal(t, stored, delivered)
}
