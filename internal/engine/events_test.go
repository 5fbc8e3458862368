package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus(8)
	id, ch := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	b.Publish([]Event{{Tick: 1, Kind: EventTradeSettled}, {Tick: 1, Kind: EventReputationChanged}})
	assert.Equal(t, EventTradeSettled, (<-ch).Kind)
	assert.Equal(t, EventReputationChanged, (<-ch).Kind)

	b.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())

	// Unsubscribing twice is harmless.
	b.Unsubscribe(id)
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := NewBus(1)
	_, ch := b.Subscribe()
	b.Publish([]Event{{Tick: 1}, {Tick: 2}, {Tick: 3}})

	assert.Equal(t, uint64(1), (<-ch).Tick)
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestRingKeepsNewest(t *testing.T) {
	r := newRing(3)
	assert.Empty(t, r.last(5))

	r.push(Event{Tick: 1}, Event{Tick: 2})
	require.Len(t, r.last(5), 2)
	assert.Equal(t, uint64(1), r.last(5)[0].Tick)

	r.push(Event{Tick: 3}, Event{Tick: 4}, Event{Tick: 5})
	got := r.last(10)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{got[0].Tick, got[1].Tick, got[2].Tick})

	got = r.last(2)
	assert.Equal(t, []uint64{4, 5}, []uint64{got[0].Tick, got[1].Tick})
	assert.Empty(t, r.last(-1))
}
