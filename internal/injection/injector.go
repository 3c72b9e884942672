// internal/injection/injector.go
package injection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/browser/parser"
)

// Strategy names a way of getting CSS onto the page.
type Strategy string

const (
	// StrategyStyleSheet installs a dedicated sheet per solution.
	StrategyStyleSheet Strategy = "stylesheet"
	// StrategyRule inserts each rule into the shared injection sheet.
	StrategyRule Strategy = "rule"
	// StrategyInline merges declarations into the element's style attribute.
	StrategyInline Strategy = "inline"
	// StrategyAttributes is recorded for solutions that only set attributes.
	StrategyAttributes Strategy = "attributes"
)

// DefaultOrder is the strategy preference when none is configured.
var DefaultOrder = []Strategy{StrategyStyleSheet, StrategyRule, StrategyInline}

var (
	ErrStrategyRejected    = errors.New("injection strategy rejected")
	ErrMalformedRule       = errors.New("malformed css rule")
	ErrAllStrategiesFailed = errors.New("all injection strategies failed")
	ErrNotApplied          = errors.New("solution is not applied")
)

// Channel is the subset of the control channel injection needs.
type Channel interface {
	AddStyleSheet(ctx context.Context, id, css string) error
	RemoveStyleSheet(ctx context.Context, id string) error
	InsertRule(ctx context.Context, id, rule string) error
	DeleteRule(ctx context.Context, id string) error
	GetAttribute(ctx context.Context, selector, name string) (string, bool, error)
	SetAttribute(ctx context.Context, selector, name, value string) error
	RemoveAttribute(ctx context.Context, selector, name string) error
	Capabilities() schemas.Capabilities
}

// savedAttribute is an attribute's value before a solution touched it.
type savedAttribute struct {
	Name    string
	Value   string
	Present bool
}

// Applied records how one solution reached the page and what it replaced.
type Applied struct {
	SolutionID string
	Key        string
	Selector   string
	Strategy   Strategy
	SheetID    string
	RuleIDs    []string
	AppliedAt  time.Time

	// prior holds attribute values in the order they were first changed,
	// including the style attribute for the inline strategy.
	prior []savedAttribute
}

// Injector applies and removes CSSFixSolutions. It is safe for concurrent
// use by tasks that target different elements.
type Injector struct {
	ch     Channel
	order  []Strategy
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	byID  map[string]*Applied
	byKey map[string]string
}

// New creates an injector trying strategies in the given order.
func New(ch Channel, order []string, logger *zap.Logger) (*Injector, error) {
	strategies, err := ParseOrder(order)
	if err != nil {
		return nil, err
	}
	return &Injector{
		ch:     ch,
		order:  strategies,
		logger: logger.Named("injector"),
		now:    time.Now,
		byID:   make(map[string]*Applied),
		byKey:  make(map[string]string),
	}, nil
}

// ParseOrder validates a configured strategy order. Empty means DefaultOrder.
func ParseOrder(order []string) ([]Strategy, error) {
	if len(order) == 0 {
		return append([]Strategy(nil), DefaultOrder...), nil
	}
	seen := make(map[Strategy]bool)
	out := make([]Strategy, 0, len(order))
	for _, name := range order {
		s := Strategy(strings.ToLower(strings.TrimSpace(name)))
		switch s {
		case StrategyStyleSheet, StrategyRule, StrategyInline:
		default:
			return nil, fmt.Errorf("injection: unknown strategy %q", name)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// SheetID is the dedicated sheet id used for a solution.
func SheetID(solutionID string) string {
	return "focusfix-" + solutionID
}

// Apply puts sol on the page. A solution with the same injection key that
// is already applied is removed first, so repeat applications replace.
func (i *Injector) Apply(ctx context.Context, sol schemas.CSSFixSolution) (Applied, error) {
	key := sol.InjectionKey()
	i.mu.Lock()
	prevID, replacing := i.byKey[key]
	i.mu.Unlock()
	if replacing {
		if err := i.Remove(ctx, prevID); err != nil {
			return Applied{}, fmt.Errorf("injection: replace %s: %w", prevID, err)
		}
		i.logger.Debug("Replaced earlier solution.", zap.String("key", key), zap.String("previous", prevID))
	}

	rec := &Applied{SolutionID: sol.ID, Key: key, Selector: sol.TargetSelector, AppliedAt: i.now()}
	if err := i.applyAttributes(ctx, sol, rec); err != nil {
		i.restore(context.WithoutCancel(ctx), rec)
		return Applied{}, err
	}

	if sol.CSS == "" && sol.InlineDeclarations == "" {
		rec.Strategy = StrategyAttributes
	} else if err := i.applyCSS(ctx, sol, rec); err != nil {
		i.restore(context.WithoutCancel(ctx), rec)
		return Applied{}, err
	}

	i.mu.Lock()
	i.byID[sol.ID] = rec
	i.byKey[key] = sol.ID
	i.mu.Unlock()
	i.logger.Debug("Solution applied.",
		zap.String("solution_id", sol.ID),
		zap.String("selector", sol.TargetSelector),
		zap.String("strategy", string(rec.Strategy)))
	return rec.snapshot(), nil
}

func (i *Injector) applyAttributes(ctx context.Context, sol schemas.CSSFixSolution, rec *Applied) error {
	if len(sol.Attributes) == 0 {
		return nil
	}
	if !i.ch.Capabilities().ModifyDOM {
		return fmt.Errorf("injection: set attributes: %w", schemas.ErrCapability)
	}
	for _, attr := range sol.Attributes {
		if err := i.remember(ctx, rec, attr.Name); err != nil {
			return err
		}
		if err := i.ch.SetAttribute(ctx, sol.TargetSelector, attr.Name, attr.Value); err != nil {
			return fmt.Errorf("injection: set %s on %q: %w", attr.Name, sol.TargetSelector, err)
		}
	}
	return nil
}

// remember saves an attribute's current value the first time it is touched.
func (i *Injector) remember(ctx context.Context, rec *Applied, name string) error {
	for _, p := range rec.prior {
		if p.Name == name {
			return nil
		}
	}
	value, present, err := i.ch.GetAttribute(ctx, rec.Selector, name)
	if err != nil {
		return fmt.Errorf("injection: read %s on %q: %w", name, rec.Selector, err)
	}
	rec.prior = append(rec.prior, savedAttribute{Name: name, Value: value, Present: present})
	return nil
}

func (i *Injector) applyCSS(ctx context.Context, sol schemas.CSSFixSolution, rec *Applied) error {
	var errs []error
	for _, s := range i.order {
		var err error
		switch s {
		case StrategyStyleSheet:
			err = i.viaStyleSheet(ctx, sol, rec)
		case StrategyRule:
			err = i.viaRules(ctx, sol, rec)
		case StrategyInline:
			err = i.viaInline(ctx, sol, rec)
		}
		if err == nil {
			rec.Strategy = s
			return nil
		}
		if schemas.IsSessionError(err) || ctx.Err() != nil {
			return err
		}
		i.logger.Debug("Injection strategy failed, trying next.",
			zap.String("strategy", string(s)),
			zap.String("solution_id", sol.ID),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", s, err))
	}
	return fmt.Errorf("%w for %q: %w", ErrAllStrategiesFailed, sol.TargetSelector, errors.Join(errs...))
}

func (i *Injector) viaStyleSheet(ctx context.Context, sol schemas.CSSFixSolution, rec *Applied) error {
	if sol.CSS == "" {
		return fmt.Errorf("%w: solution has no style sheet css", ErrStrategyRejected)
	}
	if !i.ch.Capabilities().InjectStyle {
		return fmt.Errorf("%w: %w", ErrStrategyRejected, schemas.ErrCapability)
	}
	if _, err := parser.Validate(sol.CSS); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRule, err)
	}
	id := SheetID(sol.ID)
	if err := i.ch.AddStyleSheet(ctx, id, sol.CSS); err != nil {
		return err
	}
	rec.SheetID = id
	return nil
}

func (i *Injector) viaRules(ctx context.Context, sol schemas.CSSFixSolution, rec *Applied) error {
	if sol.CSS == "" {
		return fmt.Errorf("%w: solution has no css rules", ErrStrategyRejected)
	}
	if !i.ch.Capabilities().InjectStyle {
		return fmt.Errorf("%w: %w", ErrStrategyRejected, schemas.ErrCapability)
	}
	sheet, err := parser.Validate(sol.CSS)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRule, err)
	}
	var inserted []string
	for n, rule := range sheet.Rules {
		id := fmt.Sprintf("%s-r%d", SheetID(sol.ID), n)
		if err := i.ch.InsertRule(ctx, id, rule.String()); err != nil {
			// Leave nothing behind from a half-inserted solution.
			for j := len(inserted) - 1; j >= 0; j-- {
				_ = i.ch.DeleteRule(context.WithoutCancel(ctx), inserted[j])
			}
			return err
		}
		inserted = append(inserted, id)
	}
	rec.RuleIDs = inserted
	return nil
}

func (i *Injector) viaInline(ctx context.Context, sol schemas.CSSFixSolution, rec *Applied) error {
	if sol.InlineDeclarations == "" {
		return fmt.Errorf("%w: fix cannot be expressed inline", ErrStrategyRejected)
	}
	if !i.ch.Capabilities().ModifyDOM {
		return fmt.Errorf("%w: %w", ErrStrategyRejected, schemas.ErrCapability)
	}
	add := parser.ParseDeclarationList(sol.InlineDeclarations)
	if len(add) == 0 {
		return fmt.Errorf("%w: no declarations in %q", ErrMalformedRule, sol.InlineDeclarations)
	}
	if err := i.remember(ctx, rec, "style"); err != nil {
		return err
	}
	var current string
	for _, p := range rec.prior {
		if p.Name == "style" {
			current = p.Value
		}
	}
	merged := MergeDeclarations(current, add)
	if err := i.ch.SetAttribute(ctx, sol.TargetSelector, "style", merged); err != nil {
		return err
	}
	return nil
}

// MergeDeclarations overrides same-named declarations in an inline style
// with add, marking every added declaration important.
func MergeDeclarations(current string, add []parser.Declaration) string {
	override := make(map[parser.Property]bool, len(add))
	for _, d := range add {
		override[d.Property] = true
	}
	var out []parser.Declaration
	for _, d := range parser.ParseDeclarationList(current) {
		if !override[d.Property] {
			out = append(out, d)
		}
	}
	for _, d := range add {
		d.Important = true
		out = append(out, d)
	}
	return parser.FormatDeclarationList(out)
}

// Remove reverses a solution: its CSS first, then its attributes in reverse
// order. When a step fails the record is kept, partially reversed, so the
// caller can inspect or retry.
func (i *Injector) Remove(ctx context.Context, solutionID string) error {
	i.mu.Lock()
	rec, ok := i.byID[solutionID]
	i.mu.Unlock()
	if !ok {
		return fmt.Errorf("injection: %s: %w", solutionID, ErrNotApplied)
	}

	// Record fields change under mu since Lookup and Active read them.
	if sheet := i.sheetOf(rec); sheet != "" {
		if err := i.ch.RemoveStyleSheet(ctx, sheet); err != nil {
			return fmt.Errorf("injection: remove sheet %s: %w", sheet, err)
		}
		i.mu.Lock()
		rec.SheetID = ""
		i.mu.Unlock()
	}
	for {
		last, ok := i.lastRule(rec)
		if !ok {
			break
		}
		if err := i.ch.DeleteRule(ctx, last); err != nil {
			return fmt.Errorf("injection: delete rule %s: %w", last, err)
		}
		i.mu.Lock()
		rec.RuleIDs = rec.RuleIDs[:len(rec.RuleIDs)-1]
		i.mu.Unlock()
	}
	if err := i.restore(ctx, rec); err != nil {
		return err
	}

	i.mu.Lock()
	delete(i.byID, solutionID)
	if i.byKey[rec.Key] == solutionID {
		delete(i.byKey, rec.Key)
	}
	i.mu.Unlock()
	i.logger.Debug("Solution removed.", zap.String("solution_id", solutionID))
	return nil
}

// restore puts saved attributes back, newest first, dropping each one from
// the record as it succeeds.
func (i *Injector) restore(ctx context.Context, rec *Applied) error {
	for {
		i.mu.Lock()
		if len(rec.prior) == 0 {
			i.mu.Unlock()
			return nil
		}
		p := rec.prior[len(rec.prior)-1]
		i.mu.Unlock()
		var err error
		if p.Present {
			err = i.ch.SetAttribute(ctx, rec.Selector, p.Name, p.Value)
		} else {
			err = i.ch.RemoveAttribute(ctx, rec.Selector, p.Name)
		}
		if err != nil {
			return fmt.Errorf("injection: restore %s on %q: %w", p.Name, rec.Selector, err)
		}
		i.mu.Lock()
		rec.prior = rec.prior[:len(rec.prior)-1]
		i.mu.Unlock()
	}
}

func (i *Injector) sheetOf(rec *Applied) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return rec.SheetID
}

func (i *Injector) lastRule(rec *Applied) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(rec.RuleIDs) == 0 {
		return "", false
	}
	return rec.RuleIDs[len(rec.RuleIDs)-1], true
}

// Lookup returns the record of an applied solution.
func (i *Injector) Lookup(solutionID string) (Applied, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	rec, ok := i.byID[solutionID]
	if !ok {
		return Applied{}, false
	}
	return rec.snapshot(), true
}

// Active lists applied solutions ordered by application time.
func (i *Injector) Active() []Applied {
	i.mu.Lock()
	out := make([]Applied, 0, len(i.byID))
	for _, rec := range i.byID {
		out = append(out, rec.snapshot())
	}
	i.mu.Unlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].AppliedAt.Equal(out[b].AppliedAt) {
			return out[a].SolutionID < out[b].SolutionID
		}
		return out[a].AppliedAt.Before(out[b].AppliedAt)
	})
	return out
}

func (a *Applied) snapshot() Applied {
	out := *a
	out.RuleIDs = append([]string(nil), a.RuleIDs...)
	out.prior = append([]savedAttribute(nil), a.prior...)
	return out
}
