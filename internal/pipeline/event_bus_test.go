package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusHandlers(t *testing.T) {
	bus := NewEventBus()

	var got []uint64
	unsub := bus.Subscribe(TickResultHandlerFunc(func(r *TickResult) { got = append(got, r.Seq) }))

	bus.Publish(&TickResult{Seq: 1})
	bus.Publish(nil)
	bus.OnTickResult(&TickResult{Seq: 2})
	unsub()
	bus.Publish(&TickResult{Seq: 3})

	assert.Equal(t, []uint64{1, 2}, got)
}

func TestEventBusChannelDropsWhenFull(t *testing.T) {
	bus := NewEventBus()
	ch, unsub := bus.SubscribeChannel(1)

	bus.OnTickResult(&TickResult{Seq: 1})
	bus.OnTickResult(&TickResult{Seq: 2})

	got := <-ch
	assert.Equal(t, uint64(1), got.Seq)

	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
}

func TestEventBusCloseClosesChannels(t *testing.T) {
	bus := NewEventBus()
	ch, unsub := bus.SubscribeChannel(0)

	bus.Close()
	_, ok := <-ch
	assert.False(t, ok)

	// Unsubscribing after Close must not close the channel twice
	unsub()
	bus.Publish(&TickResult{Seq: 1})
}
