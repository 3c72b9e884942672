// internal/browser/fakepage/cascade.go
package fakepage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/browser/parser"
	"github.com/xkilldash9x/focusfix/internal/browser/style"
)

// matchState carries what selector matching needs besides the element.
type matchState struct {
	active string
}

// parseSelectorList turns "a[href], button" into complex selectors.
func parseSelectorList(selector string) ([]parser.ComplexSelector, error) {
	sheet, err := parser.Validate(selector + " { x: y }")
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	var out []parser.ComplexSelector
	for _, g := range sheet.Rules[0].SelectorGroups {
		out = append(out, g...)
	}
	return out, nil
}

// matches reports whether el is selected by cs. Combinator chains only match
// through their exact source text, which is how the page addresses elements.
func (m matchState) matches(el *Element, cs parser.ComplexSelector) bool {
	if len(cs.Selectors) == 0 {
		return false
	}
	subj := cs.Subject()
	if !m.pseudoClassesHold(el, subj.PseudoClasses) {
		return false
	}
	if cs.WithoutPseudoClasses() == el.Selector {
		return true
	}
	if len(cs.Selectors) > 1 {
		return false
	}
	return compoundMatches(el, subj)
}

func (m matchState) pseudoClassesHold(el *Element, pseudo []string) bool {
	for _, pc := range pseudo {
		switch {
		case pc == "focus" || pc == "focus-visible" || pc == "focus-within":
			if m.active != el.Selector {
				return false
			}
		case strings.HasPrefix(pc, "not(") && strings.HasSuffix(pc, ")"):
			inner, err := parseSelectorList(pc[4 : len(pc)-1])
			if err != nil {
				return false
			}
			for _, cs := range inner {
				if m.matches(el, cs) {
					return false
				}
			}
		case pc == "after" || pc == "before":
			// Pseudo-elements never style the element itself.
			return false
		default:
			return false
		}
	}
	return true
}

func compoundMatches(el *Element, s parser.SimpleSelector) bool {
	if s.TagName != "" && s.TagName != "*" && !strings.EqualFold(s.TagName, el.TagName) {
		return false
	}
	if s.ID != "" && el.Attributes["id"] != s.ID {
		return false
	}
	if len(s.Classes) > 0 {
		have := strings.Fields(el.Attributes["class"])
		for _, want := range s.Classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	for _, a := range s.Attributes {
		if !attributeMatches(el, a) {
			return false
		}
	}
	return true
}

func attributeMatches(el *Element, a parser.AttributeSelector) bool {
	v, ok := el.Attributes[a.Name]
	if !ok {
		return false
	}
	want := strings.Trim(a.Value, `"'`)
	switch a.Operator {
	case "":
		return true
	case "=":
		return v == want
	case "~=":
		return contains(strings.Fields(v), want)
	case "|=":
		return v == want || strings.HasPrefix(v, want+"-")
	case "^=":
		return strings.HasPrefix(v, want)
	case "$=":
		return strings.HasSuffix(v, want)
	case "*=":
		return strings.Contains(v, want)
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// appliedDeclaration is a candidate value for one property.
type appliedDeclaration struct {
	decl        parser.Declaration
	specificity [3]int
	order       int
}

// cascade resolves the computed style of el: page styles, then injected rules
// by specificity and source order, then inline style, with !important
// declarations above all normal ones.
func (p *Page) cascade(el *Element) schemas.ComputedStyle {
	out := el.Style.Clone()
	if p.active == el.Selector {
		for k, v := range el.FocusStyle {
			out[k] = v
		}
	}

	ms := matchState{active: p.active}
	var normal, important []appliedDeclaration
	order := 0
	for _, rule := range p.injectedRules() {
		for _, g := range rule.SelectorGroups {
			for _, cs := range g {
				if !ms.matches(el, cs) {
					continue
				}
				a, b, c := cs.CalculateSpecificity()
				for _, d := range rule.Declarations {
					ad := appliedDeclaration{decl: d, specificity: [3]int{a, b, c}, order: order}
					order++
					if d.Important {
						important = append(important, ad)
					} else {
						normal = append(normal, ad)
					}
				}
			}
		}
	}
	sortCascade(normal)
	sortCascade(important)

	inline := parser.ParseDeclarationList(el.Attributes["style"])
	for _, ad := range normal {
		applyDeclaration(out, ad.decl)
	}
	for _, d := range inline {
		if !d.Important {
			applyDeclaration(out, d)
		}
	}
	for _, ad := range important {
		applyDeclaration(out, ad.decl)
	}
	for _, d := range inline {
		if d.Important {
			applyDeclaration(out, d)
		}
	}
	return out
}

func sortCascade(decls []appliedDeclaration) {
	sort.SliceStable(decls, func(i, j int) bool {
		si, sj := decls[i].specificity, decls[j].specificity
		for k := 0; k < 3; k++ {
			if si[k] != sj[k] {
				return si[k] < sj[k]
			}
		}
		return decls[i].order < decls[j].order
	})
}

var lineStyles = map[string]bool{
	"none": true, "hidden": true, "auto": true, "solid": true, "dashed": true, "dotted": true,
	"double": true, "groove": true, "ridge": true, "inset": true, "outset": true,
}

// applyDeclaration writes one declaration into the computed map, expanding
// the outline and border shorthands the way a browser reports longhands.
func applyDeclaration(out schemas.ComputedStyle, d parser.Declaration) {
	prop := strings.ToLower(string(d.Property))
	value := strings.TrimSpace(string(d.Value))
	switch prop {
	case "outline", "border":
		width, lineStyle, color := "medium", "none", ""
		for _, tok := range strings.Fields(value) {
			switch {
			case lineStyles[tok]:
				lineStyle = tok
			case isLength(tok):
				width = tok
			default:
				color = tok
			}
		}
		if lineStyle == "none" {
			width = "0px"
		} else if width == "medium" {
			width = "3px"
		}
		out[prop+"-style"] = lineStyle
		out[prop+"-width"] = width
		if color != "" {
			out[prop+"-color"] = computedColor(color)
		} else {
			out[prop+"-color"] = out.Get("color")
		}
	default:
		if strings.HasSuffix(prop, "color") {
			value = computedColor(value)
		}
		out[prop] = value
	}
}

func isLength(tok string) bool {
	switch tok {
	case "0", "thin", "medium", "thick":
		return true
	}
	for _, unit := range []string{"px", "em", "rem", "pt"} {
		if strings.HasSuffix(tok, unit) {
			return true
		}
	}
	return false
}

// computedColor normalizes a color the way getComputedStyle does.
func computedColor(value string) string {
	c, ok := style.ParseColor(value)
	if !ok {
		return value
	}
	if c.A == 255 {
		return fmt.Sprintf("rgb(%d, %d, %d)", c.R, c.G, c.B)
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %.3g)", c.R, c.G, c.B, float64(c.A)/255.0)
}
