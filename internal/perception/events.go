// internal/perception/events.go
package perception

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// AddRouteChangeListener registers cb for SPA navigations. Consecutive
// reports of the same destination are delivered once.
func (e *Engine) AddRouteChangeListener(cb RouteListener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextListenerID
	e.nextListenerID++
	e.routeListeners[id] = cb
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.routeListeners, id)
	}
}

// AddDOMChangeListener registers cb for debounced batches of significant DOM
// mutations.
func (e *Engine) AddDOMChangeListener(cb DOMListener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextListenerID
	e.nextListenerID++
	e.domListeners[id] = cb
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.domListeners, id)
	}
}

// Start subscribes to the channel's page events and runs the pump until ctx
// is done or Stop is called. Listeners run on the pump goroutine and must not
// call Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("perception: engine already started")
	}
	events, unsubscribe := e.ch.Subscribe(e.cfg.EventQueueSize)
	pumpCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.stop = cancel
	e.unsubscribe = unsubscribe

	e.wg.Add(1)
	go e.pump(pumpCtx, events)
	e.logger.Debug("Event pump started.", zap.Duration("debounce", e.cfg.DebounceWindow))
	return nil
}

// Stop ends the pump and waits for it to exit. Pending, undelivered DOM
// changes are dropped. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, unsubscribe := e.stop, e.unsubscribe
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	unsubscribe()
	e.logger.Debug("Event pump stopped.")
}

func (e *Engine) pump(ctx context.Context, events <-chan schemas.PageEvent) {
	defer e.wg.Done()

	debounce := time.NewTimer(e.cfg.DebounceWindow)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	var pending []schemas.DOMMutation
	dropped := 0
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case schemas.PageEventRoute:
				e.deliverRoute(ev.URL)
			case schemas.PageEventDOM:
				significant := filterSignificant(ev.Mutations)
				if len(significant) == 0 {
					continue
				}
				pending = append(pending, significant...)
				// The batch is bounded; a burst keeps its newest records.
				if over := len(pending) - e.cfg.EventQueueSize; over > 0 {
					pending = append(pending[:0:0], pending[over:]...)
					dropped += over
				}
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(e.cfg.DebounceWindow)
			case schemas.PageEventSessionLost:
				e.logger.Warn("Session lost, event pump exiting.")
				return
			}

		case <-debounce.C:
			if dropped > 0 {
				e.logger.Debug("DOM change batch truncated.", zap.Int("dropped", dropped))
			}
			e.deliverDOM(pending)
			pending, dropped = nil, 0
		}
	}
}

func (e *Engine) deliverRoute(url string) {
	e.mu.Lock()
	if url == e.lastRoute {
		e.mu.Unlock()
		return
	}
	e.lastRoute = url
	e.revision++
	listeners := make([]RouteListener, 0, len(e.routeListeners))
	for _, cb := range e.routeListeners {
		listeners = append(listeners, cb)
	}
	e.mu.Unlock()

	e.logger.Debug("Route changed.", zap.String("url", url))
	for _, cb := range listeners {
		cb(url)
	}
}

func (e *Engine) deliverDOM(batch []schemas.DOMMutation) {
	if len(batch) == 0 {
		return
	}
	e.mu.Lock()
	e.revision++
	listeners := make([]DOMListener, 0, len(e.domListeners))
	for _, cb := range e.domListeners {
		listeners = append(listeners, cb)
	}
	e.mu.Unlock()

	e.logger.Debug("DOM changed.", zap.Int("mutations", len(batch)))
	for _, cb := range listeners {
		out := make([]schemas.DOMMutation, len(batch))
		copy(out, batch)
		cb(out)
	}
}

// filterSignificant drops text edits on non-interactive nodes and childList
// records that neither added nor removed anything.
func filterSignificant(in []schemas.DOMMutation) []schemas.DOMMutation {
	out := make([]schemas.DOMMutation, 0, len(in))
	for _, m := range in {
		switch m.Type {
		case schemas.MutationCharacterData:
			if !m.Interactive {
				continue
			}
		case schemas.MutationChildList:
			if m.AddedNodes == 0 && m.RemovedNodes == 0 {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
