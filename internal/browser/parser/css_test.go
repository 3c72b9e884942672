// internal/browser/parser/css_test.go
package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(prop, val string, important bool) Declaration {
	return Declaration{Property: Property(prop), Value: Value(val), Important: important}
}

func firstSelector(t *testing.T, input string) ComplexSelector {
	t.Helper()
	p := NewParser(input + " { color: red }")
	group := p.parseSelectorGroup()
	require.NotEmpty(t, group, "no selector for %q", input)
	return group[0]
}

func TestParseCompoundSelectors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected SimpleSelector
	}{
		{"Tag", "button", SimpleSelector{TagName: "button"}},
		{"Tag Is Lowercased", "BUTTON", SimpleSelector{TagName: "button"}},
		{"ID", "#submit", SimpleSelector{ID: "submit"}},
		{"Tag And ID", "button#submit", SimpleSelector{TagName: "button", ID: "submit"}},
		{"Classes", ".btn.primary", SimpleSelector{Classes: []string{"btn", "primary"}}},
		{"Universal", "*", SimpleSelector{TagName: "*"}},
		{"Attr Presence", "[tabindex]", SimpleSelector{Attributes: []AttributeSelector{{Name: "tabindex"}}}},
		{"Attr Exact", `[role="button"]`, SimpleSelector{Attributes: []AttributeSelector{{Name: "role", Operator: "=", Value: "button"}}}},
		{"Attr Prefix", `a[href^="https"]`, SimpleSelector{TagName: "a", Attributes: []AttributeSelector{{Name: "href", Operator: "^=", Value: "https"}}}},
		{"Focus", "button#submit:focus", SimpleSelector{TagName: "button", ID: "submit", PseudoClasses: []string{"focus"}}},
		{"Focus Visible", ".link:focus-visible", SimpleSelector{Classes: []string{"link"}, PseudoClasses: []string{"focus-visible"}}},
		{"Functional Pseudo", `input:not([type=hidden])`, SimpleSelector{TagName: "input", PseudoClasses: []string{"not([type=hidden])"}}},
		{"Pseudo Element", "a::after", SimpleSelector{TagName: "a", PseudoClasses: []string{":after"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := firstSelector(t, tt.input)
			require.Len(t, got.Selectors, 1)
			assert.Equal(t, tt.expected, got.Selectors[0].SimpleSelector)
			assert.Equal(t, tt.input, got.Text)
		})
	}
}

func TestParseCombinators(t *testing.T) {
	p := NewParser(`nav a, form > button, h1 + p, li ~ li { color: red }`)
	group := p.parseSelectorGroup()
	require.Len(t, group, 4)

	want := []Combinator{CombinatorDescendant, CombinatorChild, CombinatorAdjacentSibling, CombinatorGeneralSibling}
	for i, c := range group {
		require.Len(t, c.Selectors, 2, "selector %q", c.Text)
		assert.Equal(t, CombinatorNone, c.Selectors[0].Combinator)
		assert.Equal(t, want[i], c.Selectors[1].Combinator, "selector %q", c.Text)
	}
	assert.Equal(t, "form > button", group[1].Text)
	assert.Equal(t, "button", group[1].Subject().TagName)
}

func TestParseFocusRule(t *testing.T) {
	css := `
		/* focus indicator */
		button#submit:focus, button#submit:focus-visible {
			outline: 2px solid #1a73e8 !important;
			outline-offset: 2px;
		}
	`
	sheet := NewParser(css).Parse()
	require.Len(t, sheet.Rules, 1)
	rule := sheet.Rules[0]

	assert.Equal(t, "button#submit:focus, button#submit:focus-visible", rule.SelectorText())
	assert.Equal(t, []Declaration{
		d("outline", "2px solid #1a73e8", true),
		d("outline-offset", "2px", false),
	}, rule.Declarations)

	focus := rule.SelectorGroups[0][0]
	assert.True(t, focus.Subject().HasPseudoClass("focus"))
	assert.False(t, focus.Subject().HasPseudoClass("hover"))
	assert.Equal(t, "button#submit", focus.WithoutPseudoClasses())
	assert.Equal(t, "button#submit", rule.SelectorGroups[0][1].WithoutPseudoClasses())
}

func TestParseSkipsAtRulesAndKeepsFunctionValues(t *testing.T) {
	css := `
		@media (max-width: 600px) { a { color: blue } }
		@import url("x.css");
		a:focus { box-shadow: 0 0 0 3px rgba(26, 115, 232, 0.5); content: "a;b" }
	`
	sheet := NewParser(css).Parse()
	require.Len(t, sheet.Rules, 1)
	assert.Equal(t, []Declaration{
		d("box-shadow", "0 0 0 3px rgba(26, 115, 232, 0.5)", false),
		d("content", `"a;b"`, false),
	}, sheet.Rules[0].Declarations)
}

func TestSpecificity(t *testing.T) {
	tests := []struct {
		input   string
		a, b, c int
	}{
		{"button", 0, 0, 1},
		{"button#submit", 1, 0, 1},
		{"button#submit:focus", 1, 1, 1},
		{".nav a:focus-visible", 0, 2, 1},
		{"*", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			a, b, c := firstSelector(t, tt.input).CalculateSpecificity()
			assert.Equal(t, []int{tt.a, tt.b, tt.c}, []int{a, b, c})
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("Accepts Well Formed", func(t *testing.T) {
		sheet, err := Validate(`a:focus { outline: 2px solid red; }`)
		require.NoError(t, err)
		assert.Len(t, sheet.Rules, 1)
	})

	bad := map[string]string{
		"Empty":              "   ",
		"Unbalanced":         "a:focus { outline: none;",
		"Extra Close":        "a { color: red } }",
		"No Selector":        "{ color: red }",
		"Missing Value":      "a { color: ; }",
		"Missing Colon":      "a { color red }",
		"Empty Block":        "a { }",
		"Empty Pseudo Class": "a: { color: red }",
	}
	for name, css := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := Validate(css)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDeclarationList(t *testing.T) {
	decls := ParseDeclarationList("outline: none; color: #333 !important")
	require.Equal(t, []Declaration{d("outline", "none", false), d("color", "#333", true)}, decls)
	assert.Equal(t, "outline: none; color: #333 !important;", FormatDeclarationList(decls))
	assert.Empty(t, FormatDeclarationList(nil))
	assert.Empty(t, ParseDeclarationList(""))
}

func TestScanner(t *testing.T) {
	t.Run("comments are whitespace", func(t *testing.T) {
		sc := scanner{src: "  /* a */\n/* b */x"}
		sc.space()
		assert.Equal(t, byte('x'), sc.cur())

		sc = scanner{src: " /* never closed"}
		sc.space()
		assert.True(t, sc.done())
	})

	t.Run("balanced skips quoted closers", func(t *testing.T) {
		sc := scanner{src: `"a)" (b) c) tail`}
		sc.balanced('(', ')')
		assert.Equal(t, " tail", sc.src[sc.off:])
	})

	t.Run("escaped quotes stay inside the string", func(t *testing.T) {
		sc := scanner{src: `'it\'s' rest`}
		sc.quoted()
		assert.Equal(t, " rest", sc.src[sc.off:])
	})
}

func TestLenientParseRecovers(t *testing.T) {
	sheet := NewParser(`a { color: ; } } b::before, : { x } c:focus { outline: none }`).Parse()
	require.NotEmpty(t, sheet.Rules)
	last := sheet.Rules[len(sheet.Rules)-1]
	assert.Equal(t, "c:focus", last.SelectorText())
	assert.Equal(t, "c:focus { outline: none; }", last.String())
}
