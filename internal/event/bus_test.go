package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublishReachesWildcardAndScopedSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	var all, scoped, other []string
	bus.Subscribe("*", func(e *Event) { all = append(all, e.Type) })
	bus.Subscribe("execution:exec-1", func(e *Event) { scoped = append(scoped, e.Type) })
	bus.Subscribe("execution:exec-2", func(e *Event) { other = append(other, e.Type) })

	bus.Publish(&Event{Type: TaskCompleted, ExecutionID: "exec-1", TaskID: "a"})

	assert.Equal(t, []string{TaskCompleted}, all)
	assert.Equal(t, []string{TaskCompleted}, scoped)
	assert.Empty(t, other)
}

func TestPanickingSubscriberDoesNotAbortOthers(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	var delivered int
	bus.Subscribe("*", func(e *Event) { panic("hook gone wrong") })
	bus.Subscribe("*", func(e *Event) { delivered++ })

	bus.Publish(&Event{Type: ExecutionStarted, ExecutionID: "exec-1"})

	assert.Equal(t, 1, delivered)
}

func TestSubscribersRunInRegistrationOrder(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	var order []int
	bus.Subscribe("*", func(e *Event) { order = append(order, 1) })
	bus.Subscribe("*", func(e *Event) { order = append(order, 2) })
	bus.Subscribe("*", func(e *Event) { order = append(order, 3) })

	bus.Publish(&Event{Type: ExecutionStarted})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestUnsubscribeRemovesChannel(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	var count int
	bus.Subscribe("execution:exec-1", func(e *Event) { count++ })
	bus.Unsubscribe("execution:exec-1")

	bus.Publish(&Event{Type: TaskStarted, ExecutionID: "exec-1"})
	assert.Zero(t, count)
}

func TestPublishStampsTimestamp(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	var got int64
	bus.Subscribe("*", func(e *Event) { got = e.Timestamp })
	bus.Publish(&Event{Type: ExecutionStarted})

	assert.NotZero(t, got)
}
