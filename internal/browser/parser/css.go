// internal/browser/parser/css.go
package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned by Validate for CSS the parser cannot accept.
var ErrMalformed = errors.New("malformed css")

type (
	Property string
	Value    string
)

// Declaration is one "property: value" pair of a rule or style attribute.
type Declaration struct {
	Property  Property
	Value     Value
	Important bool
}

// String renders the declaration without a trailing semicolon.
func (d Declaration) String() string {
	if d.Important {
		return fmt.Sprintf("%s: %s !important", d.Property, d.Value)
	}
	return fmt.Sprintf("%s: %s", d.Property, d.Value)
}

// RuleSet is a selector list and the declarations it applies.
type RuleSet struct {
	SelectorGroups []SelectorGroup
	Declarations   []Declaration
}

// SelectorText joins the source text of every selector with ", ".
func (r RuleSet) SelectorText() string {
	var parts []string
	for _, g := range r.SelectorGroups {
		for _, c := range g {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, ", ")
}

func (r RuleSet) String() string {
	decls := make([]string, len(r.Declarations))
	for i, d := range r.Declarations {
		decls[i] = d.String()
	}
	return fmt.Sprintf("%s { %s; }", r.SelectorText(), strings.Join(decls, "; "))
}

type StyleSheet struct {
	Rules []RuleSet
}

// SelectorGroup is a comma separated selector list.
type SelectorGroup []ComplexSelector

// ComplexSelector is a chain of compounds joined by combinators, e.g. "nav > a:focus".
type ComplexSelector struct {
	Selectors []SimpleSelectorWithCombinator
	// Text is the trimmed source text.
	Text string
}

// Subject returns the rightmost compound, the one the rule styles.
func (cs ComplexSelector) Subject() SimpleSelector {
	if len(cs.Selectors) == 0 {
		return SimpleSelector{}
	}
	return cs.Selectors[len(cs.Selectors)-1].SimpleSelector
}

// WithoutPseudoClasses strips the subject's trailing pseudo-classes from the
// source text: "button#submit:focus" becomes "button#submit".
func (cs ComplexSelector) WithoutPseudoClasses() string {
	text := cs.Text
	pseudo := cs.Subject().PseudoClasses
	for i := len(pseudo) - 1; i >= 0; i-- {
		text = strings.TrimSuffix(text, ":"+pseudo[i])
	}
	return strings.TrimSpace(text)
}

// CalculateSpecificity sums the (id, class, type) counts of every compound.
func (cs ComplexSelector) CalculateSpecificity() (int, int, int) {
	var a, b, c int
	for _, s := range cs.Selectors {
		sa, sb, sc := s.SimpleSelector.CalculateSpecificity()
		a, b, c = a+sa, b+sb, c+sc
	}
	return a, b, c
}

// SimpleSelectorWithCombinator is a compound and the combinator that links
// it to the compound on its left.
type SimpleSelectorWithCombinator struct {
	Combinator     Combinator
	SimpleSelector SimpleSelector
}

// SimpleSelector is one compound. Pseudo-elements are kept in
// PseudoClasses with a leading ':' ("::after" is stored as ":after").
type SimpleSelector struct {
	TagName       string
	ID            string
	Classes       []string
	Attributes    []AttributeSelector
	PseudoClasses []string
}

func (s SimpleSelector) HasPseudoClass(name string) bool {
	for _, p := range s.PseudoClasses {
		if p == name {
			return true
		}
	}
	return false
}

// CalculateSpecificity counts pseudo-classes like classes.
func (s SimpleSelector) CalculateSpecificity() (a, b, c int) {
	if s.ID != "" {
		a = 1
	}
	b = len(s.Classes) + len(s.Attributes) + len(s.PseudoClasses)
	if s.TagName != "" && s.TagName != "*" {
		c = 1
	}
	return a, b, c
}

func (s SimpleSelector) IsValid() bool {
	return s.TagName != "" || s.ID != "" || len(s.Classes) > 0 || len(s.Attributes) > 0 || len(s.PseudoClasses) > 0
}

// AttributeSelector is "[name]" or "[name op value]" with op one of
// = ~= |= ^= $= *=.
type AttributeSelector struct {
	Name     string
	Operator string
	Value    string
}

type Combinator int

const (
	CombinatorNone Combinator = iota
	CombinatorDescendant
	CombinatorChild
	CombinatorAdjacentSibling
	CombinatorGeneralSibling
)

// Parser reads a style sheet. At-rules are skipped. A lenient parser drops
// what it cannot read; a strict one records the first problem and stops.
type Parser struct {
	sc     scanner
	strict bool
	err    error
}

func NewParser(input string) *Parser {
	return &Parser{sc: scanner{src: input}}
}

// Validate parses css strictly. Unbalanced braces, a rule without a
// selector or declarations, a declaration without a property or value, and
// a sheet with no rules are all rejected.
func Validate(css string) (StyleSheet, error) {
	if strings.TrimSpace(css) == "" {
		return StyleSheet{}, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	if open, closed := strings.Count(css, "{"), strings.Count(css, "}"); open != closed {
		return StyleSheet{}, fmt.Errorf("%w: unbalanced braces (%d open, %d close)", ErrMalformed, open, closed)
	}
	p := NewParser(css)
	p.strict = true
	sheet := p.Parse()
	if p.err != nil {
		return StyleSheet{}, p.err
	}
	if len(sheet.Rules) == 0 {
		return StyleSheet{}, fmt.Errorf("%w: no rules", ErrMalformed)
	}
	return sheet, nil
}

// ParseDeclarationList reads the body of a style attribute, such as
// "color: red; outline: none".
func ParseDeclarationList(input string) []Declaration {
	decls, _ := NewParser("{" + input + "}").parseBlock()
	return decls
}

// FormatDeclarationList renders decls back into style attribute form.
func FormatDeclarationList(decls []Declaration) string {
	if len(decls) == 0 {
		return ""
	}
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ") + ";"
}

func (p *Parser) fail(format string, args ...interface{}) {
	if p.strict && p.err == nil {
		p.err = fmt.Errorf("%w: %s at offset %d", ErrMalformed, fmt.Sprintf(format, args...), p.sc.off)
	}
}

func (p *Parser) Parse() StyleSheet {
	var sheet StyleSheet
	for p.err == nil {
		p.sc.space()
		if p.sc.done() {
			break
		}
		if p.sc.at('@') {
			p.skipAtRule()
			continue
		}
		if rule, ok := p.parseRule(); ok {
			sheet.Rules = append(sheet.Rules, rule)
		}
	}
	return sheet
}

func (p *Parser) parseRule() (RuleSet, bool) {
	group := p.parseSelectorGroup()
	if len(group) == 0 {
		p.fail("rule without a selector")
		p.sc.until("{")
		if p.sc.accept('{') {
			p.sc.balanced('{', '}')
		}
		return RuleSet{}, false
	}
	decls, err := p.parseBlock()
	if err != nil {
		p.fail("%v", err)
		return RuleSet{}, false
	}
	if len(decls) == 0 {
		p.fail("rule %q has no declarations", group[0].Text)
		return RuleSet{}, false
	}
	return RuleSet{SelectorGroups: []SelectorGroup{group}, Declarations: decls}, true
}

// parseSelectorGroup stops in front of the declaration block.
func (p *Parser) parseSelectorGroup() SelectorGroup {
	var group SelectorGroup
	for {
		p.sc.space()
		if p.sc.done() || p.sc.at('{') {
			return group
		}
		start := p.sc.off
		cs := p.parseComplexSelector()
		cs.Text = strings.TrimSpace(p.sc.src[start:p.sc.off])
		if len(cs.Selectors) > 0 {
			group = append(group, cs)
		}
		p.sc.space()
		if !p.sc.accept(',') {
			return group
		}
	}
}

func (p *Parser) parseComplexSelector() ComplexSelector {
	var cs ComplexSelector
	comb := CombinatorNone
	for {
		p.sc.space()
		if p.sc.done() || p.sc.at('{') || p.sc.at(',') {
			return cs
		}
		before := p.sc.off
		simple, err := p.parseCompound()
		if err != nil {
			p.fail("%v", err)
			p.sc.until(" \t\n\r\f>+~,{")
			if p.sc.off == before {
				p.sc.advance()
			}
			continue
		}
		cs.Selectors = append(cs.Selectors, SimpleSelectorWithCombinator{Combinator: comb, SimpleSelector: simple})

		// Whitespace is a combinator only when another compound follows.
		mark := p.sc.off
		p.sc.space()
		if p.sc.done() || p.sc.at('{') || p.sc.at(',') {
			p.sc.off = mark
			return cs
		}
		switch {
		case p.sc.accept('>'):
			comb = CombinatorChild
		case p.sc.accept('+'):
			comb = CombinatorAdjacentSibling
		case p.sc.accept('~'):
			comb = CombinatorGeneralSibling
		default:
			comb = CombinatorDescendant
		}
	}
}

// parseCompound reads e.g. button#id.cls[type]:focus-visible.
func (p *Parser) parseCompound() (SimpleSelector, error) {
	var sel SimpleSelector
	if p.sc.accept('*') {
		sel.TagName = "*"
	} else if isNameStart(p.sc.cur()) {
		sel.TagName = strings.ToLower(p.sc.ident())
	}
	for {
		var err error
		switch {
		case p.sc.accept('#'):
			sel.ID = p.sc.ident()
		case p.sc.accept('.'):
			sel.Classes = append(sel.Classes, p.sc.ident())
		case p.sc.accept('['):
			var attr AttributeSelector
			if attr, err = p.parseAttribute(); err == nil {
				sel.Attributes = append(sel.Attributes, attr)
			}
		case p.sc.accept(':'):
			var pseudo string
			if pseudo, err = p.parsePseudo(); err == nil {
				sel.PseudoClasses = append(sel.PseudoClasses, pseudo)
			}
		default:
			if !sel.IsValid() {
				return sel, fmt.Errorf("invalid simple selector near %q", p.sc.peek(8))
			}
			return sel, nil
		}
		if err != nil {
			return sel, err
		}
	}
}

// parsePseudo runs after the first ':' and keeps functional arguments
// verbatim, so ":not([type=hidden])" yields "not([type=hidden])".
func (p *Parser) parsePseudo() (string, error) {
	if p.sc.accept(':') {
		return ":" + p.sc.ident(), nil
	}
	name := strings.ToLower(p.sc.ident())
	if name == "" {
		return "", errors.New("empty pseudo-class")
	}
	if p.sc.at('(') {
		start := p.sc.off
		p.sc.advance()
		p.sc.balanced('(', ')')
		name += p.sc.src[start:p.sc.off]
	}
	return name, nil
}

// parseAttribute runs after '['.
func (p *Parser) parseAttribute() (AttributeSelector, error) {
	p.sc.space()
	attr := AttributeSelector{Name: p.sc.ident()}
	p.sc.space()
	if p.sc.done() {
		return AttributeSelector{}, errors.New("unexpected EOF in attribute selector")
	}
	if p.sc.accept(']') {
		return attr, nil
	}

	start := p.sc.off
	p.sc.advance()
	p.sc.accept('=')
	attr.Operator = p.sc.src[start:p.sc.off]
	p.sc.space()

	if q := p.sc.cur(); q == '"' || q == '\'' {
		start := p.sc.off
		p.sc.quoted()
		v := p.sc.src[start+1 : p.sc.off]
		attr.Value = strings.TrimSuffix(v, string(q))
	} else {
		attr.Value = p.sc.ident()
	}
	p.sc.space()
	if !p.sc.accept(']') {
		return AttributeSelector{}, errors.New("expected ']' to close attribute selector")
	}
	return attr, nil
}

// parseBlock reads a "{ ... }" declaration block.
func (p *Parser) parseBlock() ([]Declaration, error) {
	p.sc.space()
	if !p.sc.accept('{') {
		return nil, errors.New("expected '{' at start of declarations")
	}
	var decls []Declaration
	for {
		p.sc.space()
		switch {
		case p.sc.done():
			return decls, errors.New("unterminated declaration block")
		case p.sc.accept('}'):
			return decls, nil
		case p.sc.accept(';'):
			continue
		}
		d, ok := p.parseDeclaration()
		if !ok {
			p.fail("declaration missing property or value")
			continue
		}
		decls = append(decls, d)
	}
}

func (p *Parser) parseDeclaration() (Declaration, bool) {
	if !isNameStart(p.sc.cur()) {
		p.skipDeclaration()
		return Declaration{}, false
	}
	d := Declaration{Property: Property(strings.ToLower(p.sc.ident()))}
	p.sc.space()
	if !p.sc.accept(':') {
		p.skipDeclaration()
		return Declaration{}, false
	}
	p.sc.space()

	val := p.parseValue()
	const important = "!important"
	if n := len(val) - len(important); n >= 0 && strings.EqualFold(val[n:], important) {
		d.Important = true
		val = strings.TrimSpace(val[:n])
	}
	p.sc.accept(';')
	if val == "" {
		return Declaration{}, false
	}
	d.Value = Value(val)
	return d, true
}

func (p *Parser) skipDeclaration() {
	p.sc.until(";}")
	p.sc.accept(';')
}

// parseValue stops at ';' or '}' outside strings and parentheses.
func (p *Parser) parseValue() string {
	start := p.sc.off
	for !p.sc.done() {
		switch p.sc.cur() {
		case ';', '}':
			return strings.TrimSpace(p.sc.src[start:p.sc.off])
		case '"', '\'':
			p.sc.quoted()
		case '(':
			p.sc.advance()
			p.sc.balanced('(', ')')
		default:
			p.sc.advance()
		}
	}
	return strings.TrimSpace(p.sc.src[start:])
}

func (p *Parser) skipAtRule() {
	p.sc.advance()
	p.sc.ident()
	for !p.sc.done() {
		switch p.sc.cur() {
		case '{':
			p.sc.advance()
			p.sc.balanced('{', '}')
			return
		case ';':
			p.sc.advance()
			return
		case '"', '\'':
			p.sc.quoted()
		default:
			p.sc.advance()
		}
	}
}
