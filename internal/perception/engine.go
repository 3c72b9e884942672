// internal/perception/engine.go
package perception

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/config"
)

// Channel is what perception reads from.
type Channel interface {
	QueryElements(ctx context.Context, selector string) ([]schemas.NodeInfo, error)
	ComputedStyle(ctx context.Context, selector string, properties []string) (schemas.ComputedStyle, error)
	BoundingRect(ctx context.Context, selector string) (schemas.BoundingBox, error)
	ActiveElement(ctx context.Context) (schemas.NodeInfo, bool, error)
	Viewport(ctx context.Context) (schemas.Viewport, error)
	IsLoading(ctx context.Context) (bool, error)
	URL(ctx context.Context) (string, error)
	Subscribe(buffer int) (<-chan schemas.PageEvent, func())
}

// RouteListener receives the destination of an SPA navigation.
type RouteListener func(url string)

// DOMListener receives one debounced batch of significant mutations.
type DOMListener func(changes []schemas.DOMMutation)

// StabilityResult reports how WaitForStability ended. A timeout is not an
// error: Stable is false and callers proceed anyway.
type StabilityResult struct {
	Stable bool
	Polls  int
	Waited time.Duration
}

// Engine builds page snapshots and turns the channel's raw page events into
// debounced change notifications.
type Engine struct {
	ch     Channel
	cfg    config.PerceptionConfig
	logger *zap.Logger
	now    func() time.Time

	mu             sync.Mutex
	nextListenerID int
	routeListeners map[int]RouteListener
	domListeners   map[int]DOMListener
	lastRoute      string
	revision       uint64

	running     bool
	stop        context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// New creates an engine. Call Start to begin watching for changes.
func New(ch Channel, cfg config.PerceptionConfig, logger *zap.Logger) *Engine {
	if len(cfg.FocusableSelectors) == 0 {
		cfg.FocusableSelectors = config.DefaultFocusableSelectors
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 400 * time.Millisecond
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = 256
	}
	if cfg.StabilityPoll <= 0 {
		cfg.StabilityPoll = 100 * time.Millisecond
	}
	if cfg.StabilityTimeout <= 0 {
		cfg.StabilityTimeout = 5 * time.Second
	}
	return &Engine{
		ch:             ch,
		cfg:            cfg,
		logger:         logger.Named("perception"),
		now:            time.Now,
		routeListeners: make(map[int]RouteListener),
		domListeners:   make(map[int]DOMListener),
	}
}

// Snapshot captures every visible focusable element with its style and box.
// Elements matching an excluded selector are left out, as are elements that
// disappear while the snapshot is taken.
func (e *Engine) Snapshot(ctx context.Context, c schemas.Constraints) (*schemas.PerceivedState, error) {
	vp, err := e.ch.Viewport(ctx)
	if err != nil {
		return nil, fmt.Errorf("perception: viewport: %w", err)
	}
	url, err := e.ch.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("perception: url: %w", err)
	}
	nodes, err := e.ch.QueryElements(ctx, strings.Join(e.cfg.FocusableSelectors, ", "))
	if err != nil {
		return nil, fmt.Errorf("perception: query focusable elements: %w", err)
	}

	elements := make([]schemas.ElementDescriptor, 0, len(nodes))
	for _, node := range nodes {
		if c.MaxElements > 0 && len(elements) >= c.MaxElements {
			break
		}
		if c.IsExcluded(node.Selector) {
			continue
		}
		desc, err := e.describe(ctx, node, vp)
		if errors.Is(err, schemas.ErrElementNotFound) {
			e.logger.Debug("Element vanished during snapshot.", zap.String("selector", node.Selector))
			continue
		}
		if err != nil {
			return nil, err
		}
		if !desc.IsVisible() {
			continue
		}
		elements = append(elements, desc)
	}

	var active *schemas.NodeInfo
	info, ok, err := e.ch.ActiveElement(ctx)
	if err != nil {
		return nil, fmt.Errorf("perception: active element: %w", err)
	}
	if ok {
		active = &info
	}

	state := schemas.NewPerceivedState(url, vp, elements, active, e.now())
	e.logger.Debug("Snapshot captured.", zap.String("url", url), zap.Int("elements", state.Len()))
	return state, nil
}

// SnapshotElement re-reads one element for targeted reflection. Unlike
// Snapshot, it returns hidden elements too; callers check IsVisible.
func (e *Engine) SnapshotElement(ctx context.Context, selector string) (schemas.ElementDescriptor, error) {
	vp, err := e.ch.Viewport(ctx)
	if err != nil {
		return schemas.ElementDescriptor{}, fmt.Errorf("perception: viewport: %w", err)
	}
	nodes, err := e.ch.QueryElements(ctx, selector)
	if err != nil {
		return schemas.ElementDescriptor{}, fmt.Errorf("perception: query %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return schemas.ElementDescriptor{}, fmt.Errorf("perception: %q: %w", selector, schemas.ErrElementNotFound)
	}
	return e.describe(ctx, nodes[0], vp)
}

// Focused returns the element holding focus; ok is false on the body.
func (e *Engine) Focused(ctx context.Context) (schemas.NodeInfo, bool, error) {
	info, ok, err := e.ch.ActiveElement(ctx)
	if err != nil {
		return schemas.NodeInfo{}, false, fmt.Errorf("perception: active element: %w", err)
	}
	return info, ok, nil
}

// CurrentURL reads the page URL without taking a snapshot.
func (e *Engine) CurrentURL(ctx context.Context) (string, error) {
	url, err := e.ch.URL(ctx)
	if err != nil {
		return "", fmt.Errorf("perception: url: %w", err)
	}
	return url, nil
}

func (e *Engine) describe(ctx context.Context, node schemas.NodeInfo, vp schemas.Viewport) (schemas.ElementDescriptor, error) {
	box, err := e.ch.BoundingRect(ctx, node.Selector)
	if err != nil {
		return schemas.ElementDescriptor{}, fmt.Errorf("perception: bounding rect of %q: %w", node.Selector, err)
	}
	style, err := e.ch.ComputedStyle(ctx, node.Selector, schemas.StyleProperties)
	if err != nil {
		return schemas.ElementDescriptor{}, fmt.Errorf("perception: computed style of %q: %w", node.Selector, err)
	}
	return schemas.ElementDescriptor{
		NodeInfo:   node,
		Style:      style,
		Box:        box,
		InViewport: box.Intersects(vp),
	}, nil
}

// WaitForStability polls the loading predicate until it reads false twice in
// a row or timeout elapses. Only channel failures and ctx cancellation are
// errors.
func (e *Engine) WaitForStability(ctx context.Context, timeout time.Duration) (StabilityResult, error) {
	if timeout <= 0 {
		timeout = e.cfg.StabilityTimeout
	}
	began := e.now()
	var res StabilityResult
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.StabilityPoll)
	defer ticker.Stop()

	quiet := 0
	for {
		loading, err := e.ch.IsLoading(ctx)
		res.Polls++
		if err != nil {
			if schemas.IsSessionError(err) || ctx.Err() != nil {
				res.Waited = e.now().Sub(began)
				return res, fmt.Errorf("perception: loading probe: %w", err)
			}
			// A failed probe says nothing about stability.
			e.logger.Debug("Loading probe failed.", zap.Error(err))
			quiet = 0
		} else if loading {
			quiet = 0
		} else {
			quiet++
		}
		if quiet >= 2 {
			res.Stable = true
			res.Waited = e.now().Sub(began)
			return res, nil
		}

		select {
		case <-ctx.Done():
			res.Waited = e.now().Sub(began)
			return res, ctx.Err()
		case <-deadline.C:
			res.Waited = e.now().Sub(began)
			e.logger.Debug("Page did not settle before timeout.", zap.Duration("timeout", timeout))
			return res, nil
		case <-ticker.C:
		}
	}
}

// Revision counts the external changes delivered so far. Sheets and
// attributes written through the control channel are not reported by it, so
// comparing revisions before and after an action tells whether the page
// changed on its own.
func (e *Engine) Revision() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revision
}
