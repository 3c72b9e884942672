// cmd/remediate_test.go
package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/browser/fakepage"
)

func widgetPage() *fakepage.Page {
	return fakepage.New("https://example.test/widgets",
		fakepage.Button("ok", "OK"),
		fakepage.Button("bare", "Bare").WithoutFocusRing(),
		fakepage.Div("card", "Open card").WithClickHandler(),
	)
}

func TestRemediateCmd_Selectors(t *testing.T) {
	resetForTest(t)
	page := widgetPage()
	useFakePage(t, page)
	out := filepath.Join(t.TempDir(), "fix.json")

	_, stderr, err := executeCommand(t, "remediate", "https://example.test/widgets", "-s", "button#bare", "-s", "button#ok", "-f", "json", "-o", out)
	require.NoError(t, err)

	doc := readJSONReport(t, out)
	assert.Empty(t, doc.Loops)
	require.NotNil(t, doc.Remediation)
	assert.Equal(t, 1, doc.Remediation.Total, "elements without issues are not tasked")
	assert.Equal(t, 1, doc.Remediation.Successful)
	assert.Equal(t, "button#bare", doc.Remediation.Tasks[0].Selector)
	assert.NotEmpty(t, page.InjectedCSS())
	assert.Contains(t, stderr, "fix button#bare: completed")
}

func TestRemediateCmd_QuietSuppressesProgress(t *testing.T) {
	resetForTest(t)
	page := widgetPage()
	useFakePage(t, page)

	_, stderr, err := executeCommand(t, "remediate", "https://example.test/widgets", "-s", "button#bare", "-q", "-f", "json", "-o", filepath.Join(t.TempDir(), "fix.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, page.InjectedCSS())
	assert.NotContains(t, stderr, "fix button#bare")
	assert.NotContains(t, stderr, "missing-focus")
}

func TestRemediateCmd_WholePageWithRevert(t *testing.T) {
	resetForTest(t)
	page := widgetPage()
	useFakePage(t, page)
	out := filepath.Join(t.TempDir(), "fix.json")

	_, _, err := executeCommand(t, "remediate", "https://example.test/widgets", "--revert", "--concurrency", "1", "-f", "json", "-o", out)
	require.NoError(t, err)

	doc := readJSONReport(t, out)
	require.NotNil(t, doc.Remediation)
	assert.Equal(t, 2, doc.Remediation.Total)
	assert.Equal(t, 2, doc.Remediation.Successful, "the report is taken before the revert")
	selectors := []string{doc.Remediation.Tasks[0].Selector, doc.Remediation.Tasks[1].Selector}
	assert.ElementsMatch(t, []string{"button#bare", "div#card"}, selectors)

	assert.Empty(t, page.InjectedCSS(), "revert removes every injected rule")
	card, ok := page.Element("div#card")
	require.True(t, ok)
	_, hasTabIndex := card.Attributes["tabindex"]
	assert.False(t, hasTabIndex, "revert restores the original attributes")
}

func TestRemediateCmd_Failures(t *testing.T) {
	resetForTest(t)

	t.Run("unknown selector", func(t *testing.T) {
		useFakePage(t, widgetPage())
		_, _, err := executeCommand(t, "remediate", "https://example.test/widgets", "-s", "#nope", "-q")
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)
		assert.Contains(t, err.Error(), `selector "#nope"`)
	})

	t.Run("fix cannot be applied", func(t *testing.T) {
		page := widgetPage()
		page.SetCapabilities(schemas.Capabilities{SimulateInput: true})
		useFakePage(t, page)
		out := filepath.Join(t.TempDir(), "fix.json")

		_, _, err := executeCommand(t, "remediate", "https://example.test/widgets", "-s", "button#bare", "-f", "json", "-o", out)
		require.ErrorIs(t, err, errRemediationFailed)

		doc := readJSONReport(t, out)
		require.NotNil(t, doc.Remediation)
		assert.Equal(t, 1, doc.Remediation.Failed)
		assert.Empty(t, page.InjectedCSS())
	})

	t.Run("session lost", func(t *testing.T) {
		page := widgetPage()
		page.Lose()
		useFakePage(t, page)
		_, _, err := executeCommand(t, "remediate", "https://example.test/widgets", "-f", "json", "-o", filepath.Join(t.TempDir(), "r.json"))
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrSessionLost)
		assert.Contains(t, err.Error(), "remediation ended early")
	})
}
