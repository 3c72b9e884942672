// internal/browser/session/integration_test.go
package session

import (
	"context"
	"net/url"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/config"
)

const fixtureHTML = `<!doctype html>
<html><head><style>
  button { outline: none; }
</style></head>
<body style="background:#ffffff">
  <a id="home" href="#home">Home</a>
  <button id="submit">Submit</button>
  <input id="email" aria-label="Email">
  <div id="hidden" tabindex="0" style="display:none">Hidden</div>
</body></html>`

func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	if os.Getenv("FOCUSFIX_SKIP_BROWSER_TESTS") != "" {
		t.Skip("browser tests disabled by FOCUSFIX_SKIP_BROWSER_TESTS")
	}
	for _, bin := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(bin); err == nil {
			return
		}
	}
	t.Skip("no Chrome binary found on PATH")
}

func TestSessionAgainstChrome(t *testing.T) {
	requireChrome(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cfg := config.NewDefaultConfig()
	cfg.SetBrowserHeadless(true)

	m, err := NewManager(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	s, err := m.Launch(ctx, "data:text/html,"+url.PathEscape(fixtureHTML))
	require.NoError(t, err)

	t.Run("Second Attach Is Rejected", func(t *testing.T) {
		_, err := m.Connect(ctx, s.TabID())
		assert.ErrorIs(t, err, schemas.ErrTargetAttached)
		_, err = m.Connect(ctx, 4242)
		assert.ErrorIs(t, err, schemas.ErrSessionUnavailable)
	})

	t.Run("Capabilities", func(t *testing.T) {
		caps := s.Capabilities()
		assert.True(t, caps.SimulateInput)
		assert.True(t, caps.InjectStyle)
		assert.True(t, caps.ModifyDOM)
	})

	t.Run("Tab Moves Focus", func(t *testing.T) {
		require.NoError(t, s.DispatchKey(ctx, schemas.KeyEventData{Key: "Tab"}))
		active, ok, err := s.ActiveElement(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a#home", active.Selector)

		require.NoError(t, s.DispatchKey(ctx, schemas.KeyEventData{Key: "Tab"}))
		active, _, err = s.ActiveElement(ctx)
		require.NoError(t, err)
		assert.Equal(t, "button#submit", active.Selector)
		assert.True(t, active.Clickable)
	})

	t.Run("Introspection", func(t *testing.T) {
		nodes, err := s.QueryElements(ctx, "[tabindex], a[href], button, input")
		require.NoError(t, err)
		assert.Len(t, nodes, 4)

		style, err := s.ComputedStyle(ctx, "div#hidden", nil)
		require.NoError(t, err)
		assert.True(t, style.IsHidden())

		box, err := s.BoundingRect(ctx, "button#submit")
		require.NoError(t, err)
		assert.Greater(t, box.Width, 0.0)

		label, present, err := s.GetAttribute(ctx, "input#email", "aria-label")
		require.NoError(t, err)
		assert.True(t, present)
		assert.Equal(t, "Email", label)

		_, err = s.ComputedStyle(ctx, "#nope", nil)
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)
	})

	t.Run("Rule Injection Round Trip", func(t *testing.T) {
		before, err := s.StyleRuleCount(ctx)
		require.NoError(t, err)

		require.NoError(t, s.InsertRule(ctx, "F1", "button#submit:focus { outline: 3px solid rgb(26, 115, 232) }"))
		require.NoError(t, s.InsertRule(ctx, "F1", "button#submit:focus { outline: 2px solid rgb(26, 115, 232) }"))
		after, err := s.StyleRuleCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+1, after, "re-inserting an id replaces its rule")

		require.NoError(t, s.Focus(ctx, "button#submit"))
		style, err := s.ComputedStyle(ctx, "button#submit", []string{"outline-width"})
		require.NoError(t, err)
		assert.Equal(t, "2px", style.Get("outline-width"))

		require.NoError(t, s.DeleteRule(ctx, "F1"))
		final, err := s.StyleRuleCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, final)
	})

	t.Run("Own Writes Are Not Reported", func(t *testing.T) {
		events, unsubscribe := s.Subscribe(32)
		defer unsubscribe()

		require.NoError(t, s.SetAttribute(ctx, "button#submit", "tabindex", "0"))
		require.NoError(t, s.AddStyleSheet(ctx, "focusfix-own", "button#submit:focus { outline: 3px solid blue }"))
		require.NoError(t, s.RemoveStyleSheet(ctx, "focusfix-own"))
		require.NoError(t, s.RemoveAttribute(ctx, "button#submit", "tabindex"))

		var ignored bool
		require.NoError(t, s.eval(ctx, "external write",
			`(() => { document.getElementById('submit').setAttribute('data-external', '1'); return true; })()`, &ignored, ""))

		deadline := time.After(5 * time.Second)
		for {
			select {
			case ev := <-events:
				if ev.Type != schemas.PageEventDOM {
					continue
				}
				for _, m := range ev.Mutations {
					assert.NotEqual(t, "tabindex", m.AttributeName)
					assert.NotEqual(t, "head", m.TagName)
					if m.AttributeName == "data-external" {
						return
					}
				}
			case <-deadline:
				t.Fatal("no mutation event for an external write")
			}
		}
	})

	t.Run("Route Events", func(t *testing.T) {
		events, unsubscribe := s.Subscribe(8)
		defer unsubscribe()

		var ignored bool
		require.NoError(t, s.eval(ctx, "hash change", `(() => { location.hash = '/settings'; return true; })()`, &ignored, ""))
		deadline := time.After(5 * time.Second)
		for {
			select {
			case ev := <-events:
				if ev.Type != schemas.PageEventRoute {
					continue
				}
				assert.Contains(t, ev.URL, "#/settings")
				return
			case <-deadline:
				t.Fatal("no route event for hash change")
			}
		}
	})

	require.NoError(t, s.Close(ctx))
	_, err = s.URL(ctx)
	assert.ErrorIs(t, err, schemas.ErrSessionLost)
}
