package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	b := NewBus()
	var order []int
	for i := 0; i < 3; i++ {
		b.Subscribe(PlayerJoined, func(e Event) error {
			order = append(order, i)
			assert.Equal(t, Player{ID: 4}, e.Data)
			return nil
		})
	}
	b.Subscribe(PlayerLeft, func(Event) error {
		t.Fatal("wrong type delivered")
		return nil
	})

	require.NoError(t, b.Publish(New(PlayerJoined, "test", Player{ID: 4})))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	b := NewBus()
	calls := 0
	sub := b.Subscribe(EntityAttached, func(Event) error {
		calls++
		return nil
	})
	assert.True(t, sub.IsActive())
	assert.NotEmpty(t, sub.ID())

	require.NoError(t, b.Publish(New(EntityAttached, "test", Entity{ID: 1})))
	sub.Cancel()
	sub.Cancel()
	require.NoError(t, b.Publish(New(EntityAttached, "test", Entity{ID: 1})))

	assert.Equal(t, 1, calls)
	assert.False(t, sub.IsActive())
	assert.Zero(t, b.Metrics().Subscribers)
}

func TestBus_CancelFromInsideHandler(t *testing.T) {
	b := NewBus()
	calls := 0
	var sub *Subscription
	sub = b.Subscribe(StatusChanged, func(Event) error {
		calls++
		sub.Cancel()
		return nil
	})
	second := 0
	b.Subscribe(StatusChanged, func(Event) error {
		second++
		return nil
	})

	require.NoError(t, b.Publish(New(StatusChanged, "test", StatusChange{To: "Success"})))
	require.NoError(t, b.Publish(New(StatusChanged, "test", StatusChange{To: "Disconnected"})))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, second)
}

func TestBus_JoinsHandlerErrors(t *testing.T) {
	b := NewBus()
	errA := errors.New("a")
	errB := errors.New("b")
	b.Subscribe(PlayerLeft, func(Event) error { return errA })
	b.Subscribe(PlayerLeft, func(Event) error { return nil })
	b.Subscribe(PlayerLeft, func(Event) error { return errB })

	err := b.Publish(New(PlayerLeft, "test", Player{ID: 1}))
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	m := b.Metrics()
	assert.Equal(t, uint64(1), m.Published)
	assert.Equal(t, uint64(3), m.Delivered)
	assert.Equal(t, uint64(1), m.Errors)
}

func TestNop(t *testing.T) {
	var b Bus = Nop{}
	sub := b.Subscribe(PlayerJoined, func(Event) error { return errors.New("never") })
	assert.NoError(t, b.Publish(New(PlayerJoined, "test", nil)))
	sub.Cancel()
	assert.Equal(t, Metrics{}, b.Metrics())
}

func BenchmarkBus_Publish(b *testing.B) {
	bus := NewBus()
	for i := 0; i < 8; i++ {
		bus.Subscribe(EntityAttached, func(Event) error { return nil })
	}
	ev := New(EntityAttached, "bench", Entity{ID: 1})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.Publish(ev)
	}
}
