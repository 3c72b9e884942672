// internal/remediation/generator.go
package remediation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/browser/parser"
	"github.com/xkilldash9x/focusfix/internal/browser/style"
	"github.com/xkilldash9x/focusfix/internal/config"
)

// indicatorContrast is the minimum non-text contrast of a focus indicator
// against its background (WCAG 1.4.11).
const indicatorContrast = 3.0

// Generator turns issues into CSSFixSolutions.
type Generator struct {
	cfg   config.RemediationConfig
	newID func() string
}

// NewGenerator creates a generator using the outline and contrast settings
// of cfg.
func NewGenerator(cfg config.RemediationConfig) *Generator {
	if cfg.OutlineWidthPx <= 0 {
		cfg.OutlineWidthPx = 3
	}
	if cfg.OutlineOffsetPx < 0 {
		cfg.OutlineOffsetPx = 2
	}
	if cfg.TargetContrastRatio <= 0 {
		cfg.TargetContrastRatio = 4.5
	}
	return &Generator{cfg: cfg, newID: uuid.NewString}
}

// Generate returns candidate fixes for issue on el, best first.
func (g *Generator) Generate(issue schemas.AccessibilityIssue, el schemas.ElementDescriptor, ectx schemas.ElementContext) ([]schemas.CSSFixSolution, error) {
	switch issue.Type {
	case schemas.IssueMissingFocus:
		return []schemas.CSSFixSolution{g.focusVisible(issue, el, ectx)}, nil
	case schemas.IssueLowContrast:
		sol, err := g.colorContrast(issue, el, ectx)
		if err != nil {
			return nil, err
		}
		return []schemas.CSSFixSolution{sol}, nil
	case schemas.IssueKeyboardInaccessible:
		return []schemas.CSSFixSolution{g.keyboardNavigation(issue, el)}, nil
	case schemas.IssueMissingLabel:
		return []schemas.CSSFixSolution{g.accessibleName(issue, el)}, nil
	}
	return nil, fmt.Errorf("no fix generator for issue type %q", issue.Type)
}

func (g *Generator) base(issue schemas.AccessibilityIssue, el schemas.ElementDescriptor, ft schemas.FixType) schemas.CSSFixSolution {
	return schemas.CSSFixSolution{
		ID:             g.newID(),
		IssueID:        issue.ID,
		FixType:        ft,
		TargetSelector: el.Selector,
		Priority:       issue.Severity.Weight(),
		Reversible:     true,
	}
}

func background(ectx schemas.ElementContext) style.Color {
	bg, ok := style.ParseColor(ectx.Background)
	if !ok || bg.IsTransparent() {
		if ectx.Theme == "dark" {
			return style.Black
		}
		return style.White
	}
	return bg.Over(style.White)
}

func (g *Generator) focusVisible(issue schemas.AccessibilityIssue, el schemas.ElementDescriptor, ectx schemas.ElementContext) schemas.CSSFixSolution {
	bg := background(ectx)
	color := style.FocusIndicatorColor(bg, indicatorContrast)
	ratio := style.ContrastRatio(color, bg)

	decls := []parser.Declaration{
		{Property: "outline", Value: parser.Value(fmt.Sprintf("%dpx solid %s", g.cfg.OutlineWidthPx, color.Hex())), Important: true},
		{Property: "outline-offset", Value: parser.Value(fmt.Sprintf("%dpx", g.cfg.OutlineOffsetPx)), Important: true},
	}
	sol := g.base(issue, el, schemas.FixFocusVisible)
	sol.CSS = fmt.Sprintf("%s:focus, %s:focus-visible { %s }",
		el.Selector, el.Selector, parser.FormatDeclarationList(decls))
	sol.Description = fmt.Sprintf("Add a %dpx %s focus outline (%.2f:1 against %s) to %s",
		g.cfg.OutlineWidthPx, color.Hex(), ratio, bg.Hex(), el.Selector)
	sol.WCAGCriteria = []string{"2.4.7", "1.4.11"}
	sol.VisualImpact = schemas.ImpactLow
	sol.Confidence = 0.9
	if ratio < indicatorContrast {
		sol.Confidence = 0.6
	}
	return sol
}

func (g *Generator) colorContrast(issue schemas.AccessibilityIssue, el schemas.ElementDescriptor, ectx schemas.ElementContext) (schemas.CSSFixSolution, error) {
	bg := background(ectx)
	fg, ok := style.ParseColor(el.Style.Get("color"))
	if !ok {
		return schemas.CSSFixSolution{}, fmt.Errorf("element %q has unparseable color %q", el.Selector, el.Style.Get("color"))
	}
	fg = fg.Over(bg)
	before := style.ContrastRatio(fg, bg)
	if r, ok := issue.Evidence["ratio"].(float64); ok && r > 0 {
		before = r
	}
	target := g.cfg.TargetContrastRatio
	adjusted, after := style.AdjustForContrast(fg, bg, target)

	decl := parser.Declaration{Property: "color", Value: parser.Value(adjusted.Hex()), Important: true}
	sol := g.base(issue, el, schemas.FixColorContrast)
	sol.CSS = fmt.Sprintf("%s { %s }", el.Selector, parser.FormatDeclarationList([]parser.Declaration{decl}))
	sol.InlineDeclarations = parser.FormatDeclarationList([]parser.Declaration{{Property: "color", Value: decl.Value}})
	sol.Description = fmt.Sprintf("Raise text contrast of %s from %.2f:1 to %.2f:1 (target %.1f:1) by changing color %s to %s",
		el.Selector, before, after, target, fg.Hex(), adjusted.Hex())
	sol.WCAGCriteria = []string{"1.4.3"}
	sol.VisualImpact = schemas.ImpactModerate
	switch {
	case after >= target && style.Distance(fg, adjusted) < 0.3:
		sol.Confidence = 0.85
	case after >= target:
		sol.Confidence = 0.7
	default:
		sol.Confidence = 0.4
	}
	return sol, nil
}

func (g *Generator) keyboardNavigation(issue schemas.AccessibilityIssue, el schemas.ElementDescriptor) schemas.CSSFixSolution {
	sol := g.base(issue, el, schemas.FixKeyboardNavigation)
	sol.Attributes = []schemas.AttributeChange{{Name: "tabindex", Value: "0"}}
	if el.Role == "" && !nativelyInteractive(el.TagName) {
		role := "button"
		if _, ok := el.Attributes["href"]; ok {
			role = "link"
		}
		sol.Attributes = append(sol.Attributes, schemas.AttributeChange{Name: "role", Value: role})
	}
	names := make([]string, len(sol.Attributes))
	for i, a := range sol.Attributes {
		names[i] = fmt.Sprintf("%s=%q", a.Name, a.Value)
	}
	sol.Description = fmt.Sprintf("Make %s keyboard focusable with %s", el.Selector, strings.Join(names, " "))
	sol.WCAGCriteria = []string{"2.1.1"}
	sol.VisualImpact = schemas.ImpactNone
	sol.Confidence = 0.8
	return sol
}

func (g *Generator) accessibleName(issue schemas.AccessibilityIssue, el schemas.ElementDescriptor) schemas.CSSFixSolution {
	name := el.Attributes["placeholder"]
	if name == "" {
		name = el.Attributes["name"]
	}
	if name == "" {
		name = el.Attributes["id"]
	}
	confidence := 0.5
	if name == "" {
		name = el.TagName
		confidence = 0.3
	}
	name = strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(name))

	sol := g.base(issue, el, schemas.FixAccessibleName)
	sol.Attributes = []schemas.AttributeChange{{Name: "aria-label", Value: name}}
	sol.Description = fmt.Sprintf("Give %s the accessible name %q", el.Selector, name)
	sol.WCAGCriteria = []string{"4.1.2"}
	sol.VisualImpact = schemas.ImpactNone
	sol.Confidence = confidence
	return sol
}

func nativelyInteractive(tag string) bool {
	switch tag {
	case "a", "button", "input", "select", "textarea", "summary":
		return true
	}
	return false
}
