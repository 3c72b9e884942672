// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/config"
)

// Session is a control channel bound to one attached tab. Operations are
// serialized: at most one CDP command batch is in flight at a time.
type Session struct {
	id       string
	tabID    int
	targetID target.ID
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	cfg      config.BrowserConfig

	limiter *rate.Limiter
	opMu    sync.Mutex

	caps schemas.Capabilities

	lost       atomic.Bool
	lostReason atomic.Value
	// navigating is set while the session itself drives a navigation, so the
	// resulting frameNavigated event is not mistaken for losing the page.
	navigating atomic.Bool

	subMu   sync.Mutex
	subs    map[int]chan schemas.PageEvent
	nextSub int

	onClose   func()
	closeOnce sync.Once
}

var _ schemas.ControlChannel = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, tabID int, tid target.ID, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.New().String()
	limit := rate.Inf
	if cfg.OpsPerSecond > 0 {
		limit = rate.Limit(cfg.OpsPerSecond)
	}
	burst := cfg.OpsBurst
	if burst <= 0 {
		burst = 1
	}
	return &Session{
		id:       id,
		tabID:    tabID,
		targetID: tid,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(zap.String("session_id", id), zap.Int("tab_id", tabID)),
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		subs:     make(map[int]chan schemas.PageEvent),
	}
}

// initialize wires event listeners, installs page helpers and negotiates
// capabilities. Called once, right after attach.
func (s *Session) initialize(ctx context.Context) error {
	chromedp.ListenTarget(s.ctx, s.onTargetEvent)

	setupCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(setupCtx,
		page.Enable(),
		runtime.Enable(),
		runtime.AddBinding(mutationBinding),
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(helperScript).Do(c)
			return err
		}),
		chromedp.Evaluate(helperScript, nil),
	)
	if err != nil {
		return fmt.Errorf("failed to install page helpers: %w", err)
	}

	s.caps = s.negotiate(setupCtx)
	go s.watchContext()

	s.logger.Info("Session attached.",
		zap.Bool("simulate_input", s.caps.SimulateInput),
		zap.Bool("inject_style", s.caps.InjectStyle),
		zap.Bool("modify_dom", s.caps.ModifyDOM),
		zap.Bool("capture_screenshots", s.caps.CaptureScreenshots))
	return nil
}

// negotiate probes each capability once, then applies config overrides.
func (s *Session) negotiate(ctx context.Context) schemas.Capabilities {
	var caps schemas.Capabilities

	caps.SimulateInput = chromedp.Run(ctx, input.DispatchMouseEvent(input.MouseMoved, 0, 0)) == nil

	var ok bool
	if err := chromedp.Run(ctx, evaluate(probeStyleScript, &ok)); err == nil {
		caps.InjectStyle = ok
	}
	ok = false
	if err := chromedp.Run(ctx, evaluate(probeDOMScript, &ok)); err == nil {
		caps.ModifyDOM = ok
	}

	caps.CaptureScreenshots = chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, err := page.CaptureScreenshot().
			WithClip(&page.Viewport{X: 0, Y: 0, Width: 1, Height: 1, Scale: 1}).
			Do(c)
		return err
	})) == nil

	return applyOverrides(caps, s.cfg.Capabilities)
}

func applyOverrides(caps schemas.Capabilities, o config.CapabilityOverride) schemas.Capabilities {
	if o.SimulateInput != nil {
		caps.SimulateInput = *o.SimulateInput
	}
	if o.InjectStyle != nil {
		caps.InjectStyle = *o.InjectStyle
	}
	if o.ModifyDOM != nil {
		caps.ModifyDOM = *o.ModifyDOM
	}
	if o.CaptureScreenshots != nil {
		caps.CaptureScreenshots = *o.CaptureScreenshots
	}
	return caps
}

func (s *Session) watchContext() {
	<-s.ctx.Done()
	s.markLost("session context closed")
}

// -- Identity --

func (s *Session) ID() string                         { return s.id }
func (s *Session) TabID() int                         { return s.tabID }
func (s *Session) Capabilities() schemas.Capabilities { return s.caps }

// Close detaches from the tab. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing session.")
		s.navigating.Store(false)
		s.lost.Store(true)
		s.lostReason.Store("session closed")
		s.cancel()

		s.subMu.Lock()
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.subMu.Unlock()

		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// -- Loss detection and events --

func (s *Session) markLost(reason string) {
	if s.lost.Swap(true) {
		return
	}
	s.lostReason.Store(reason)
	s.logger.Warn("Session lost.", zap.String("reason", reason))
	s.publish(schemas.PageEvent{Type: schemas.PageEventSessionLost, Timestamp: time.Now()})
}

func (s *Session) lostErr() error {
	reason, _ := s.lostReason.Load().(string)
	if reason == "" {
		reason = "unknown"
	}
	return fmt.Errorf("%w: %s", schemas.ErrSessionLost, reason)
}

func (s *Session) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		if s.navigating.Load() {
			return
		}
		s.markLost("main frame navigated to " + e.Frame.URL)
	case *page.EventNavigatedWithinDocument:
		s.publish(schemas.PageEvent{Type: schemas.PageEventRoute, URL: e.URL, Timestamp: time.Now()})
	case *target.EventDetachedFromTarget:
		s.markLost("detached from target")
	case *runtime.EventBindingCalled:
		if e.Name != mutationBinding {
			return
		}
		muts, err := decodeMutations(e.Payload)
		if err != nil {
			s.logger.Debug("Dropping malformed mutation batch.", zap.Error(err))
			return
		}
		if len(muts) > 0 {
			s.publish(schemas.PageEvent{Type: schemas.PageEventDOM, Mutations: muts, Timestamp: time.Now()})
		}
	}
}

func decodeMutations(payload string) ([]schemas.DOMMutation, error) {
	var muts []schemas.DOMMutation
	if err := json.Unmarshal([]byte(payload), &muts); err != nil {
		return nil, fmt.Errorf("decode mutation batch: %w", err)
	}
	return muts, nil
}

// Subscribe registers a page-event subscriber. Delivery never blocks the
// CDP event loop: events for a full subscriber are dropped.
func (s *Session) Subscribe(buffer int) (<-chan schemas.PageEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan schemas.PageEvent, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
}

func (s *Session) publish(ev schemas.PageEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("Subscriber full, dropping page event.", zap.String("type", string(ev.Type)))
		}
	}
}

// -- Execution core --

func evaluate(script string, out interface{}) chromedp.Action {
	return chromedp.Evaluate(script, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	})
}

// run executes actions with pacing, serialization and the operation timeout.
func (s *Session) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	if s.lost.Load() {
		return s.lostErr()
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.lost.Load() {
		return s.lostErr()
	}

	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if s.cfg.OperationTimeout > 0 {
		var tcancel context.CancelFunc
		opCtx, tcancel = context.WithTimeout(opCtx, s.cfg.OperationTimeout)
		defer tcancel()
	}

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	switch {
	case s.lost.Load():
		return s.lostErr()
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case errors.Is(opCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s: %w after %v", op, schemas.ErrActionTimeout, s.cfg.OperationTimeout)
	case isPermissionError(err):
		return fmt.Errorf("%s: %w: %v", op, schemas.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isPermissionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not allowed") || strings.Contains(msg, "permission")
}

// eval runs a helper-backed script and decodes its JSON result into out.
// A null result is reported as ErrElementNotFound when notFound is set.
func (s *Session) eval(ctx context.Context, op, script string, out interface{}, notFound string) error {
	var raw []byte
	if err := s.run(ctx, op, evaluate(script, &raw)); err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		if notFound != "" {
			return fmt.Errorf("%s %q: %w", op, notFound, schemas.ErrElementNotFound)
		}
		return nil
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", op, err)
	}
	return nil
}

func (s *Session) require(capOK bool, what string) error {
	if !capOK {
		return fmt.Errorf("%s: %w", what, schemas.ErrCapability)
	}
	return nil
}

// -- InputChannel --

func (s *Session) DispatchKey(ctx context.Context, data schemas.KeyEventData) error {
	if err := s.require(s.caps.SimulateInput, "dispatch key"); err != nil {
		return err
	}
	evs := keyEvents(data)
	actions := make([]chromedp.Action, len(evs))
	for i, ev := range evs {
		actions[i] = ev
	}
	return s.run(ctx, "dispatch key "+data.Key, actions...)
}

func (s *Session) InsertText(ctx context.Context, text string) error {
	if err := s.require(s.caps.SimulateInput, "insert text"); err != nil {
		return err
	}
	return s.run(ctx, "insert text", input.InsertText(text))
}

func (s *Session) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	if err := s.require(s.caps.SimulateInput, "mouse event"); err != nil {
		return err
	}
	p := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))
	return s.run(ctx, "mouse event", p)
}

func (s *Session) DispatchTouchEvent(ctx context.Context, data schemas.TouchEventData) error {
	if err := s.require(s.caps.SimulateInput, "touch event"); err != nil {
		return err
	}
	points := make([]*input.TouchPoint, len(data.Points))
	for i, pt := range data.Points {
		points[i] = &input.TouchPoint{X: pt.X, Y: pt.Y}
	}
	return s.run(ctx, "touch event", input.DispatchTouchEvent(input.TouchType(data.Type), points))
}

func (s *Session) Focus(ctx context.Context, selector string) error {
	var ok bool
	if err := s.eval(ctx, "focus", focusScript(selector), &ok, ""); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("focus %q: %w", selector, schemas.ErrElementNotFound)
	}
	return nil
}

func (s *Session) Blur(ctx context.Context) error {
	return s.eval(ctx, "blur", blurScript, nil, "")
}

// -- IntrospectionChannel --

func (s *Session) QueryElements(ctx context.Context, selector string) ([]schemas.NodeInfo, error) {
	var nodes []schemas.NodeInfo
	if err := s.eval(ctx, "query elements", queryElementsScript(selector, 0), &nodes, ""); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *Session) QueryElement(ctx context.Context, selector string) (schemas.NodeInfo, error) {
	var nodes []schemas.NodeInfo
	if err := s.eval(ctx, "query element", queryElementsScript(selector, 1), &nodes, ""); err != nil {
		return schemas.NodeInfo{}, err
	}
	if len(nodes) == 0 {
		return schemas.NodeInfo{}, fmt.Errorf("query element %q: %w", selector, schemas.ErrElementNotFound)
	}
	return nodes[0], nil
}

func (s *Session) ComputedStyle(ctx context.Context, selector string, properties []string) (schemas.ComputedStyle, error) {
	if len(properties) == 0 {
		properties = schemas.StyleProperties
	}
	style := schemas.ComputedStyle{}
	if err := s.eval(ctx, "computed style", computedStyleScript(selector, properties), &style, selector); err != nil {
		return nil, err
	}
	return style, nil
}

func (s *Session) BoundingRect(ctx context.Context, selector string) (schemas.BoundingBox, error) {
	var box schemas.BoundingBox
	err := s.eval(ctx, "bounding rect", boundingRectScript(selector), &box, selector)
	return box, err
}

func (s *Session) EffectiveBackground(ctx context.Context, selector string) (string, error) {
	var bg string
	err := s.eval(ctx, "effective background", effectiveBackgroundScript(selector), &bg, selector)
	return bg, err
}

func (s *Session) ActiveElement(ctx context.Context) (schemas.NodeInfo, bool, error) {
	var raw []byte
	if err := s.run(ctx, "active element", evaluate(activeElementScript, &raw)); err != nil {
		return schemas.NodeInfo{}, false, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return schemas.NodeInfo{}, false, nil
	}
	var info schemas.NodeInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return schemas.NodeInfo{}, false, fmt.Errorf("active element: decode result: %w", err)
	}
	return info, true, nil
}

func (s *Session) Viewport(ctx context.Context) (schemas.Viewport, error) {
	var vp schemas.Viewport
	err := s.eval(ctx, "viewport", viewportScript, &vp, "")
	return vp, err
}

func (s *Session) IsLoading(ctx context.Context) (bool, error) {
	var loading bool
	err := s.eval(ctx, "is loading", isLoadingScript, &loading, "")
	return loading, err
}

func (s *Session) GetAttribute(ctx context.Context, selector, name string) (string, bool, error) {
	var res struct {
		Present bool   `json:"present"`
		Value   string `json:"value"`
	}
	if err := s.eval(ctx, "get attribute", getAttributeScript(selector, name), &res, selector); err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

func (s *Session) StyleRuleCount(ctx context.Context) (int, error) {
	var n int
	err := s.eval(ctx, "style rule count", styleRuleCountScript, &n, "")
	return n, err
}

// -- PageChannel --

// Navigate loads url in the attached tab. The session survives navigations it
// initiates; any other cross-document navigation loses the session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.navigating.Store(true)
	defer s.navigating.Store(false)

	if err := s.run(ctx, "navigate", chromedp.Navigate(url)); err != nil {
		return err
	}
	s.publish(schemas.PageEvent{Type: schemas.PageEventRoute, URL: url, Timestamp: time.Now()})
	return nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	err := s.run(ctx, "url", chromedp.Location(&loc))
	return loc, err
}

func (s *Session) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := s.require(s.caps.CaptureScreenshots, "screenshot"); err != nil {
		return nil, err
	}
	var buf []byte
	var action chromedp.Action
	if selector == "" {
		action = chromedp.CaptureScreenshot(&buf)
	} else {
		action = chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible)
	}
	if err := s.run(ctx, "screenshot", action); err != nil {
		return nil, err
	}
	return buf, nil
}

// -- StyleChannel --

func (s *Session) AddStyleSheet(ctx context.Context, id, css string) error {
	if err := s.require(s.caps.InjectStyle, "add style sheet"); err != nil {
		return err
	}
	return s.eval(ctx, "add style sheet", addStyleSheetScript(id, css), nil, "")
}

func (s *Session) RemoveStyleSheet(ctx context.Context, id string) error {
	if err := s.require(s.caps.InjectStyle, "remove style sheet"); err != nil {
		return err
	}
	return s.eval(ctx, "remove style sheet", removeStyleSheetScript(id), nil, "")
}

func (s *Session) InsertRule(ctx context.Context, id, rule string) error {
	if err := s.require(s.caps.InjectStyle, "insert rule"); err != nil {
		return err
	}
	return s.eval(ctx, "insert rule", insertRuleScript(id, rule), nil, "")
}

func (s *Session) DeleteRule(ctx context.Context, id string) error {
	if err := s.require(s.caps.InjectStyle, "delete rule"); err != nil {
		return err
	}
	return s.eval(ctx, "delete rule", deleteRuleScript(id), nil, "")
}

func (s *Session) SetAttribute(ctx context.Context, selector, name, value string) error {
	if err := s.require(s.caps.ModifyDOM, "set attribute"); err != nil {
		return err
	}
	var ok bool
	if err := s.eval(ctx, "set attribute", setAttributeScript(selector, name, value), &ok, ""); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set attribute on %q: %w", selector, schemas.ErrElementNotFound)
	}
	return nil
}

func (s *Session) RemoveAttribute(ctx context.Context, selector, name string) error {
	if err := s.require(s.caps.ModifyDOM, "remove attribute"); err != nil {
		return err
	}
	var ok bool
	if err := s.eval(ctx, "remove attribute", removeAttributeScript(selector, name), &ok, ""); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("remove attribute on %q: %w", selector, schemas.ErrElementNotFound)
	}
	return nil
}

// -- Context helpers --

// CombineContext returns a context carrying primary's values (the chromedp
// target) that is canceled when either primary or secondary is done.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
