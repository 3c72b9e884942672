// internal/agent/event_bus_test.go
package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Creates a bus that is shut down when the test ends.
func setupEventBus(t *testing.T, bufferSize int) *EventBus {
	t.Helper()
	bus := NewEventBus(zaptest.NewLogger(t), bufferSize)
	t.Cleanup(func() {
		if !bus.isShutdown {
			bus.Shutdown()
		}
	})
	return bus
}

func TestEventBus_PostSubscribe_HappyPath(t *testing.T) {
	bus := setupEventBus(t, 10)
	ctx := context.Background()

	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	require.NoError(t, bus.Post(ctx, LoopEvent{Type: EventCycleDone, Cycle: 3, Payload: "payload"}))

	select {
	case ev := <-events:
		assert.Equal(t, EventCycleDone, ev.Type)
		assert.Equal(t, 3, ev.Cycle)
		assert.Equal(t, "payload", ev.Payload)
		assert.NotEmpty(t, ev.ID, "bus should stamp an ID")
		assert.False(t, ev.Timestamp.IsZero(), "bus should stamp a timestamp")
		bus.Acknowledge(ev)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event delivery")
	}

	assert.True(t, waitTimeout(&bus.processingWg, 100*time.Millisecond), "acknowledge did not decrement processingWg")
}

func TestEventBus_Filtering(t *testing.T) {
	bus := setupEventBus(t, 10)
	ctx := context.Background()

	issues, unsubIssues := bus.Subscribe(EventIssues)
	defer unsubIssues()
	phases, unsubPhases := bus.Subscribe(EventPhaseChange)
	defer unsubPhases()

	require.NoError(t, bus.Post(ctx, LoopEvent{Type: EventPhaseChange, Payload: PhaseChange{From: "idle", To: "planning"}}))
	require.NoError(t, bus.Post(ctx, LoopEvent{Type: EventIssues}))

	select {
	case ev := <-phases:
		assert.Equal(t, PhaseChange{From: "idle", To: "planning"}, ev.Payload)
		bus.Acknowledge(ev)
	case <-time.After(time.Second):
		t.Fatal("phase subscriber got nothing")
	}
	select {
	case ev := <-issues:
		assert.Equal(t, EventIssues, ev.Type)
		bus.Acknowledge(ev)
	case <-time.After(time.Second):
		t.Fatal("issues subscriber got nothing")
	}

	assert.Empty(t, phases, "phase subscriber must not see other types")
	assert.Empty(t, issues, "issues subscriber must not see other types")
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := setupEventBus(t, 10)

	events, unsubscribe := bus.Subscribe(EventActionDone)
	unsubscribe()
	unsubscribe() // idempotent

	_, open := <-events
	assert.False(t, open, "unsubscribe should close the channel")

	require.NoError(t, bus.Post(context.Background(), LoopEvent{Type: EventActionDone}))
	assert.True(t, waitTimeout(&bus.processingWg, 100*time.Millisecond), "no subscriber means nothing to acknowledge")
}

func TestEventBus_BackpressureHonoursContext(t *testing.T) {
	bus := setupEventBus(t, 1)

	events, unsubscribe := bus.Subscribe(EventCycleDone)
	defer unsubscribe()

	require.NoError(t, bus.Post(context.Background(), LoopEvent{Type: EventCycleDone}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := bus.Post(ctx, LoopEvent{Type: EventCycleDone})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	bus.Acknowledge(<-events)
	assert.True(t, waitTimeout(&bus.processingWg, 100*time.Millisecond))
}

func TestEventBus_ShutdownWaitsForAcknowledgement(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t), 4)
	events, _ := bus.Subscribe()

	require.NoError(t, bus.Post(context.Background(), LoopEvent{Type: EventRemediation}))

	done := make(chan struct{})
	go func() {
		bus.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("shutdown returned before the event was acknowledged")
	case <-time.After(30 * time.Millisecond):
	}

	ev, ok := <-events
	require.True(t, ok)
	bus.Acknowledge(ev)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not return after acknowledgement")
	}

	err := bus.Post(context.Background(), LoopEvent{Type: EventRemediation})
	assert.Error(t, err, "posting after shutdown must fail")
}

func TestEventBus_ConcurrentPosts(t *testing.T) {
	bus := setupEventBus(t, 8)
	events, unsubscribe := bus.Subscribe(EventActionDone)
	defer unsubscribe()

	const posters, each = 4, 25
	received := make(chan int, 1)
	go func() {
		n := 0
		for ev := range events {
			bus.Acknowledge(ev)
			n++
			if n == posters*each {
				break
			}
		}
		received <- n
	}()

	var wg sync.WaitGroup
	for i := 0; i < posters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				assert.NoError(t, bus.Post(context.Background(), LoopEvent{Type: EventActionDone}))
			}
		}()
	}
	require.True(t, waitTimeout(&wg, 2*time.Second), "posters blocked")

	select {
	case n := <-received:
		assert.Equal(t, posters*each, n)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not receive every event")
	}
}
