// internal/browser/fakepage/page.go
package fakepage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/browser/parser"
)

var _ schemas.ControlChannel = (*Page)(nil)

var pageSeq atomic.Int64

type failure struct {
	err       error
	remaining int // negative means every call
}

type subscriber struct {
	ch     chan schemas.PageEvent
	closed bool
}

type injectedRule struct {
	id   string
	rule parser.RuleSet
}

// Page is a deterministic in-memory document that behaves like an attached
// browser tab: Tab order, focus-dependent styles, injected sheets and rules,
// attributes, a loading sequence and page events.
type Page struct {
	mu sync.Mutex

	id    string
	tabID int
	url   string
	vp    schemas.Viewport
	caps  schemas.Capabilities

	elements []*Element
	active   string
	traps    map[string]string

	sheetOrder    []string
	sheets        map[string]parser.StyleSheet
	rules         []injectedRule
	baseRuleCount int

	loading []bool
	latency time.Duration

	failures    map[string]*failure
	lost        bool
	subs        []*subscriber
	calls       []string
	clicks      map[string]int
	activations map[string]int
	typed       map[string]string

	inFlight    int
	maxInFlight int
}

// New builds a page at url containing elements in document order.
func New(url string, elements ...*Element) *Page {
	p := &Page{
		id:          fmt.Sprintf("fake-%d", pageSeq.Add(1)),
		tabID:       1,
		url:         url,
		vp:          schemas.Viewport{Width: 1280, Height: 800},
		caps:        schemas.Capabilities{SimulateInput: true, InjectStyle: true, ModifyDOM: true, CaptureScreenshots: true},
		traps:       make(map[string]string),
		sheets:      make(map[string]parser.StyleSheet),
		failures:    make(map[string]*failure),
		clicks:      make(map[string]int),
		activations: make(map[string]int),
		typed:       make(map[string]string),
	}
	y := 10.0
	for _, el := range elements {
		if el.Box.Y == 0 && el.Box.X == 0 {
			el.Box.X, el.Box.Y = 10, y
			y += el.Box.Height + 10
		}
		p.elements = append(p.elements, el)
	}
	return p
}

// -- Scenario setup --

// SetTrap makes Tab on from move focus to to, regardless of document order.
func (p *Page) SetTrap(from, to string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.traps[from] = to
}

// SetLoadingSequence scripts successive IsLoading answers. Once exhausted the
// page reports it has finished loading.
func (p *Page) SetLoadingSequence(states ...bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = append([]bool(nil), states...)
}

func (p *Page) SetCapabilities(c schemas.Capabilities) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caps = c
}

func (p *Page) SetViewport(vp schemas.Viewport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vp = vp
}

// SetBaseRuleCount sets how many rules the page's own sheets contain.
func (p *Page) SetBaseRuleCount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseRuleCount = n
}

// SetLatency makes every operation take at least d.
func (p *Page) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// Fail makes the next times calls of op fail with err. A negative times fails
// every call.
func (p *Page) Fail(op string, err error, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = &failure{err: err, remaining: times}
}

// Lose simulates the target navigating away or closing.
func (p *Page) Lose() {
	p.mu.Lock()
	if p.lost {
		p.mu.Unlock()
		return
	}
	p.lost = true
	p.mu.Unlock()
	p.Emit(schemas.PageEvent{Type: schemas.PageEventSessionLost, URL: p.url})
}

// Route simulates a same-document navigation.
func (p *Page) Route(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	p.Emit(schemas.PageEvent{Type: schemas.PageEventRoute, URL: url})
}

// AppendElement adds el and reports the mutation.
func (p *Page) AppendElement(el *Element) {
	p.mu.Lock()
	p.elements = append(p.elements, el)
	p.mu.Unlock()
	p.Emit(schemas.PageEvent{Type: schemas.PageEventDOM, Mutations: []schemas.DOMMutation{{
		Type: schemas.MutationChildList, Target: "body", TagName: "body",
		Interactive: el.focusable(), AddedNodes: 1,
	}}})
}

// Emit delivers ev to every subscriber without blocking.
func (p *Page) Emit(ev schemas.PageEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.subs {
		if s.closed {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// -- Inspection --

// ActiveSelector returns the focused selector, "" for the body.
func (p *Page) ActiveSelector() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Page) Clicks(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clicks[selector]
}

// Activations counts Enter or Space presses while selector had focus.
func (p *Page) Activations(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activations[selector]
}

func (p *Page) Typed(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

// Calls returns the operation log in call order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// CallCount counts successful and failed calls of op.
func (p *Page) CallCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == op {
			n++
		}
	}
	return n
}

// MaxInFlight is the highest number of operations seen running at once.
func (p *Page) MaxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

// SheetIDs lists installed dedicated sheets.
func (p *Page) SheetIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sheetOrder...)
}

// RuleIDs lists rules in the shared injection sheet.
func (p *Page) RuleIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, len(p.rules))
	for i, r := range p.rules {
		ids[i] = r.id
	}
	return ids
}

// InjectedCSS renders every injected rule, dedicated sheets first.
func (p *Page) InjectedCSS() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var sb strings.Builder
	for _, r := range p.injectedRules() {
		sb.WriteString(r.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Element returns a copy of the element addressed by selector.
func (p *Page) Element(selector string) (*Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := p.find(selector)
	if el == nil {
		return nil, false
	}
	return el.clone(), true
}

// -- Internals --

// begin records op and applies latency and scripted failures. The returned
// func must be called when the operation finishes.
func (p *Page) begin(ctx context.Context, op string) (func(), error) {
	p.mu.Lock()
	p.calls = append(p.calls, op)
	if p.lost {
		p.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, schemas.ErrSessionLost)
	}
	if f, ok := p.failures[op]; ok && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
		}
		p.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, f.err)
	}
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	latency := p.latency
	p.mu.Unlock()

	done := func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			done()
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		done()
		return nil, err
	}
	return done, nil
}

func (p *Page) find(selector string) *Element {
	for _, el := range p.elements {
		if el.Selector == selector {
			return el
		}
	}
	list, err := parseSelectorList(selector)
	if err != nil {
		return nil
	}
	ms := matchState{active: p.active}
	for _, el := range p.elements {
		for _, cs := range list {
			if ms.matches(el, cs) {
				return el
			}
		}
	}
	return nil
}

func (p *Page) mustFind(op, selector string) (*Element, error) {
	el := p.find(selector)
	if el == nil {
		return nil, fmt.Errorf("%s %q: %w", op, selector, schemas.ErrElementNotFound)
	}
	return el, nil
}

func (p *Page) injectedRules() []parser.RuleSet {
	var out []parser.RuleSet
	for _, id := range p.sheetOrder {
		out = append(out, p.sheets[id].Rules...)
	}
	for _, r := range p.rules {
		out = append(out, r.rule)
	}
	return out
}

// tabOrder follows the browser rule: positive tab indexes ascending, then
// tab index 0 in document order.
func (p *Page) tabOrder() []*Element {
	var positive, zero []*Element
	for _, el := range p.elements {
		if !el.focusable() || el.TabIndex < 0 {
			continue
		}
		if el.TabIndex > 0 {
			positive = append(positive, el)
		} else {
			zero = append(zero, el)
		}
	}
	sort.SliceStable(positive, func(i, j int) bool { return positive[i].TabIndex < positive[j].TabIndex })
	return append(positive, zero...)
}

func (p *Page) advanceFocus(backward bool) {
	if !backward {
		if to, ok := p.traps[p.active]; ok && p.active != "" {
			p.active = to
			return
		}
	}
	order := p.tabOrder()
	if len(order) == 0 {
		p.active = ""
		return
	}
	idx := -1
	for i, el := range order {
		if el.Selector == p.active {
			idx = i
			break
		}
	}
	switch {
	case idx == -1 && backward:
		p.active = order[len(order)-1].Selector
	case idx == -1:
		p.active = order[0].Selector
	case backward && idx == 0, !backward && idx == len(order)-1:
		// Focus leaves the document for the browser UI.
		p.active = ""
	case backward:
		p.active = order[idx-1].Selector
	default:
		p.active = order[idx+1].Selector
	}
}

func (p *Page) hitTest(x, y float64) *Element {
	for i := len(p.elements) - 1; i >= 0; i-- {
		el := p.elements[i]
		if el.Style.IsHidden() {
			continue
		}
		b := el.Box
		if x >= b.X && x <= b.X+b.Width && y >= b.Y && y <= b.Y+b.Height {
			return el
		}
	}
	return nil
}

// -- ControlChannel --

func (p *Page) ID() string { return p.id }

func (p *Page) TabID() int { return p.tabID }

func (p *Page) Capabilities() schemas.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

func (p *Page) Subscribe(buffer int) (<-chan schemas.PageEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	s := &subscriber{ch: make(chan schemas.PageEvent, buffer)}
	p.mu.Lock()
	p.subs = append(p.subs, s)
	p.mu.Unlock()
	return s.ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lost = true
	for _, s := range p.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	return nil
}

func (p *Page) requireCap(op string, has bool) error {
	if !has {
		return fmt.Errorf("%s: %w", op, schemas.ErrCapability)
	}
	return nil
}

func (p *Page) DispatchKey(ctx context.Context, data schemas.KeyEventData) error {
	done, err := p.begin(ctx, "DispatchKey")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireCap("DispatchKey", p.caps.SimulateInput); err != nil {
		return err
	}
	switch data.Key {
	case "Tab":
		p.advanceFocus(data.Modifiers&schemas.ModShift != 0)
	case "Enter", " ":
		if el := p.find(p.active); el != nil && p.active != "" {
			p.activations[el.Selector]++
		}
	case "Escape":
		delete(p.traps, p.active)
	default:
		chord := data.Modifiers&(schemas.ModCtrl|schemas.ModMeta|schemas.ModAlt) != 0
		if len([]rune(data.Key)) == 1 && !chord && p.active != "" {
			p.typed[p.active] += data.Key
		}
	}
	return nil
}

func (p *Page) InsertText(ctx context.Context, text string) error {
	done, err := p.begin(ctx, "InsertText")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != "" {
		p.typed[p.active] += text
	}
	return nil
}

func (p *Page) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	done, err := p.begin(ctx, "DispatchMouseEvent")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireCap("DispatchMouseEvent", p.caps.SimulateInput); err != nil {
		return err
	}
	el := p.hitTest(data.X, data.Y)
	switch data.Type {
	case schemas.MousePress:
		// Pressing on anything unfocusable moves focus to the body.
		if el != nil && el.focusable() {
			p.active = el.Selector
		} else {
			p.active = ""
		}
	case schemas.MouseRelease:
		if el != nil {
			p.clicks[el.Selector]++
		}
	}
	return nil
}

func (p *Page) DispatchTouchEvent(ctx context.Context, data schemas.TouchEventData) error {
	done, err := p.begin(ctx, "DispatchTouchEvent")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireCap("DispatchTouchEvent", p.caps.SimulateInput); err != nil {
		return err
	}
	if data.Type != schemas.TouchStart || len(data.Points) == 0 {
		return nil
	}
	if el := p.hitTest(data.Points[0].X, data.Points[0].Y); el != nil {
		p.clicks[el.Selector]++
		if el.focusable() {
			p.active = el.Selector
		}
	}
	return nil
}

func (p *Page) Focus(ctx context.Context, selector string) error {
	done, err := p.begin(ctx, "Focus")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.mustFind("focus", selector)
	if err != nil {
		return err
	}
	if el.focusable() {
		p.active = el.Selector
	}
	return nil
}

func (p *Page) Blur(ctx context.Context) error {
	done, err := p.begin(ctx, "Blur")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = ""
	return nil
}

func (p *Page) QueryElements(ctx context.Context, selector string) ([]schemas.NodeInfo, error) {
	done, err := p.begin(ctx, "QueryElements")
	if err != nil {
		return nil, err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	list, err := parseSelectorList(selector)
	if err != nil {
		return nil, err
	}
	ms := matchState{active: p.active}
	var out []schemas.NodeInfo
	for _, el := range p.elements {
		for _, cs := range list {
			if ms.matches(el, cs) {
				out = append(out, el.info())
				break
			}
		}
	}
	return out, nil
}

func (p *Page) QueryElement(ctx context.Context, selector string) (schemas.NodeInfo, error) {
	done, err := p.begin(ctx, "QueryElement")
	if err != nil {
		return schemas.NodeInfo{}, err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.mustFind("query", selector)
	if err != nil {
		return schemas.NodeInfo{}, err
	}
	return el.info(), nil
}

func (p *Page) ComputedStyle(ctx context.Context, selector string, properties []string) (schemas.ComputedStyle, error) {
	done, err := p.begin(ctx, "ComputedStyle")
	if err != nil {
		return nil, err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.mustFind("computed style", selector)
	if err != nil {
		return nil, err
	}
	full := p.cascade(el)
	if len(properties) == 0 {
		properties = schemas.StyleProperties
	}
	out := make(schemas.ComputedStyle, len(properties))
	for _, prop := range properties {
		out[prop] = full[prop]
	}
	return out, nil
}

func (p *Page) BoundingRect(ctx context.Context, selector string) (schemas.BoundingBox, error) {
	done, err := p.begin(ctx, "BoundingRect")
	if err != nil {
		return schemas.BoundingBox{}, err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.mustFind("bounding rect", selector)
	if err != nil {
		return schemas.BoundingBox{}, err
	}
	if el.Style.IsHidden() && el.Style.Get("display") == "none" {
		return schemas.BoundingBox{}, nil
	}
	return el.Box, nil
}

func (p *Page) EffectiveBackground(ctx context.Context, selector string) (string, error) {
	done, err := p.begin(ctx, "EffectiveBackground")
	if err != nil {
		return "", err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.mustFind("background", selector)
	if err != nil {
		return "", err
	}
	if bg := p.cascade(el).Get("background-color"); bg != "" && bg != "rgba(0, 0, 0, 0)" && bg != "transparent" {
		return bg, nil
	}
	return el.Background, nil
}

func (p *Page) ActiveElement(ctx context.Context) (schemas.NodeInfo, bool, error) {
	done, err := p.begin(ctx, "ActiveElement")
	if err != nil {
		return schemas.NodeInfo{}, false, err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == "" {
		return schemas.NodeInfo{}, false, nil
	}
	el := p.find(p.active)
	if el == nil {
		return schemas.NodeInfo{}, false, nil
	}
	return el.info(), true, nil
}

func (p *Page) Viewport(ctx context.Context) (schemas.Viewport, error) {
	done, err := p.begin(ctx, "Viewport")
	if err != nil {
		return schemas.Viewport{}, err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vp, nil
}

func (p *Page) IsLoading(ctx context.Context) (bool, error) {
	done, err := p.begin(ctx, "IsLoading")
	if err != nil {
		return false, err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loading) == 0 {
		return false, nil
	}
	next := p.loading[0]
	p.loading = p.loading[1:]
	return next, nil
}

func (p *Page) GetAttribute(ctx context.Context, selector, name string) (string, bool, error) {
	done, err := p.begin(ctx, "GetAttribute")
	if err != nil {
		return "", false, err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.mustFind("get attribute", selector)
	if err != nil {
		return "", false, err
	}
	v, ok := el.Attributes[name]
	return v, ok, nil
}

func (p *Page) StyleRuleCount(ctx context.Context) (int, error) {
	done, err := p.begin(ctx, "StyleRuleCount")
	if err != nil {
		return 0, err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baseRuleCount + len(p.injectedRules()), nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	done, err := p.begin(ctx, "Navigate")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	p.url = url
	p.active = ""
	p.mu.Unlock()
	p.Emit(schemas.PageEvent{Type: schemas.PageEventRoute, URL: url})
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	done, err := p.begin(ctx, "URL")
	if err != nil {
		return "", err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

// Screenshot returns bytes derived from the rendered state, so two captures
// differ exactly when the element's computed style differs.
func (p *Page) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	done, err := p.begin(ctx, "Screenshot")
	if err != nil {
		return nil, err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireCap("Screenshot", p.caps.CaptureScreenshots); err != nil {
		return nil, err
	}
	h := sha256.New()
	render := func(el *Element) {
		cs := p.cascade(el)
		keys := make([]string, 0, len(cs))
		for k := range cs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(h, "%s{", el.Selector)
		for _, k := range keys {
			fmt.Fprintf(h, "%s:%s;", k, cs[k])
		}
		h.Write([]byte("}"))
	}
	if selector != "" {
		el, err := p.mustFind("screenshot", selector)
		if err != nil {
			return nil, err
		}
		render(el)
	} else {
		for _, el := range p.elements {
			render(el)
		}
	}
	return append([]byte("\x89PNG\r\n\x1a\n"), h.Sum(nil)...), nil
}

func (p *Page) AddStyleSheet(ctx context.Context, id, css string) error {
	done, err := p.begin(ctx, "AddStyleSheet")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireCap("AddStyleSheet", p.caps.InjectStyle); err != nil {
		return err
	}
	// Browsers drop rules they cannot parse instead of rejecting the sheet.
	sheet := parser.NewParser(css).Parse()
	if _, exists := p.sheets[id]; !exists {
		p.sheetOrder = append(p.sheetOrder, id)
	}
	p.sheets[id] = sheet
	return nil
}

func (p *Page) RemoveStyleSheet(ctx context.Context, id string) error {
	done, err := p.begin(ctx, "RemoveStyleSheet")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireCap("RemoveStyleSheet", p.caps.InjectStyle); err != nil {
		return err
	}
	delete(p.sheets, id)
	for i, sid := range p.sheetOrder {
		if sid == id {
			p.sheetOrder = append(p.sheetOrder[:i], p.sheetOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (p *Page) InsertRule(ctx context.Context, id, rule string) error {
	done, err := p.begin(ctx, "InsertRule")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireCap("InsertRule", p.caps.InjectStyle); err != nil {
		return err
	}
	sheet, err := parser.Validate(rule)
	if err != nil || len(sheet.Rules) != 1 {
		return fmt.Errorf("insert rule %q: SyntaxError: failed to parse the rule", id)
	}
	for i, r := range p.rules {
		if r.id == id {
			p.rules[i].rule = sheet.Rules[0]
			return nil
		}
	}
	p.rules = append(p.rules, injectedRule{id: id, rule: sheet.Rules[0]})
	return nil
}

func (p *Page) DeleteRule(ctx context.Context, id string) error {
	done, err := p.begin(ctx, "DeleteRule")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireCap("DeleteRule", p.caps.InjectStyle); err != nil {
		return err
	}
	for i, r := range p.rules {
		if r.id == id {
			p.rules = append(p.rules[:i], p.rules[i+1:]...)
			break
		}
	}
	return nil
}

func (p *Page) SetAttribute(ctx context.Context, selector, name, value string) error {
	done, err := p.begin(ctx, "SetAttribute")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireCap("SetAttribute", p.caps.ModifyDOM); err != nil {
		return err
	}
	el, err := p.mustFind("set attribute", selector)
	if err != nil {
		return err
	}
	el.setAttr(name, value)
	return nil
}

func (p *Page) RemoveAttribute(ctx context.Context, selector, name string) error {
	done, err := p.begin(ctx, "RemoveAttribute")
	if err != nil {
		return err
	}
	defer done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireCap("RemoveAttribute", p.caps.ModifyDOM); err != nil {
		return err
	}
	el, err := p.mustFind("remove attribute", selector)
	if err != nil {
		return err
	}
	el.removeAttr(name)
	return nil
}
