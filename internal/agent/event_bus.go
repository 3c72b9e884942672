// internal/agent/event_bus.go
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType names what a LoopEvent reports.
type EventType string

const (
	EventPhaseChange EventType = "PHASE_CHANGE"
	EventActionDone  EventType = "ACTION_DONE"
	EventIssues      EventType = "ISSUES"
	EventRemediation EventType = "REMEDIATION"
	EventCycleDone   EventType = "CYCLE_DONE"
)

var allEventTypes = []EventType{EventPhaseChange, EventActionDone, EventIssues, EventRemediation, EventCycleDone}

// LoopEvent is the envelope published on the EventBus.
type LoopEvent struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	Cycle     int
	TaskID    string
	Payload   interface{}
}

// PhaseChange is the payload of EventPhaseChange.
type PhaseChange struct {
	From string
	To   string
}

// EventBus fans loop events out to observers. Sends block while a
// subscriber's buffer is full, so observers must keep draining and
// Acknowledge what they receive.
type EventBus struct {
	logger *zap.Logger

	subscribers map[EventType][]chan LoopEvent
	mu          sync.RWMutex
	bufferSize  int

	// processingWg counts delivered events not yet acknowledged.
	processingWg sync.WaitGroup
	// activePostsWg counts Post calls in flight.
	activePostsWg sync.WaitGroup

	isShutdown bool
	shutdownMu sync.Mutex
}

// NewEventBus creates a bus whose subscriber channels hold bufferSize events.
func NewEventBus(logger *zap.Logger, bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &EventBus{
		logger:      logger.Named("event_bus"),
		subscribers: make(map[EventType][]chan LoopEvent),
		bufferSize:  bufferSize,
	}
}

// Post delivers ev to every subscriber of its type.
func (b *EventBus) Post(ctx context.Context, ev LoopEvent) (err error) {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return fmt.Errorf("cannot post event: bus is shut down")
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePostsWg.Done()

	// A send can race a channel closed by Shutdown.
	defer func() {
		if r := recover(); r != nil {
			b.processingWg.Done()
			b.logger.Debug("Recovered from send on closed subscriber.", zap.Any("panic", r))
			err = fmt.Errorf("failed to post event: bus is shutting down")
		}
	}()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := append([]chan LoopEvent(nil), b.subscribers[ev.Type]...)
	b.mu.RUnlock()

	for _, ch := range subs {
		b.processingWg.Add(1)
		select {
		case ch <- ev:
		case <-ctx.Done():
			b.processingWg.Done()
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe returns a channel of events of the given types, or of every
// type when none is given, and a func that unsubscribes and closes it.
func (b *EventBus) Subscribe(types ...EventType) (<-chan LoopEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan LoopEvent, b.bufferSize)
	if len(types) == 0 {
		types = allEventTypes
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			// Shutdown closes whatever is still registered.
			b.shutdownMu.Lock()
			down := b.isShutdown
			b.shutdownMu.Unlock()
			if down {
				return
			}
			for _, t := range types {
				subs := b.subscribers[t]
				for i, c := range subs {
					if c == ch {
						b.subscribers[t] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Acknowledge marks ev as processed.
func (b *EventBus) Acknowledge(LoopEvent) {
	b.processingWg.Done()
}

// Shutdown closes every subscriber channel and waits until in-flight posts
// return and delivered events are acknowledged.
func (b *EventBus) Shutdown() {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return
	}
	b.isShutdown = true
	b.shutdownMu.Unlock()

	b.mu.Lock()
	unique := make(map[chan LoopEvent]struct{})
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			unique[ch] = struct{}{}
		}
	}
	for ch := range unique {
		close(ch)
	}
	b.subscribers = make(map[EventType][]chan LoopEvent)
	b.mu.Unlock()

	b.activePostsWg.Wait()
	b.processingWg.Wait()
}
