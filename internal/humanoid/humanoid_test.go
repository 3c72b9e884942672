// internal/humanoid/humanoid_test.go
package humanoid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/browser/fakepage"
)

func selectors(path []schemas.NodeInfo) []string {
	out := make([]string, len(path))
	for i, n := range path {
		out[i] = n.Selector
	}
	return out
}

func TestParseKeyExpression(t *testing.T) {
	tests := []struct {
		expr    string
		want    schemas.KeyEventData
		wantErr bool
	}{
		{"Tab", schemas.KeyEventData{Key: "Tab"}, false},
		{"shift+Tab", schemas.KeyEventData{Key: "Tab", Modifiers: schemas.ModShift}, false},
		{"ctrl+shift+a", schemas.KeyEventData{Key: "a", Modifiers: schemas.ModCtrl | schemas.ModShift}, false},
		{"esc", schemas.KeyEventData{Key: "Escape"}, false},
		{"space", schemas.KeyEventData{Key: " "}, false},
		{"+", schemas.KeyEventData{Key: "+"}, false},
		{"hyper+a", schemas.KeyEventData{}, true},
		{"ctrl+", schemas.KeyEventData{}, true},
		{"", schemas.KeyEventData{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseKeyExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWalkFocusOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Full Cycle Succeeds", func(t *testing.T) {
		page := fakepage.New("https://example.test/",
			fakepage.Link("home", "/", "Home"),
			fakepage.Button("submit", "Submit"),
			fakepage.Input("email", "Email"),
		)
		h := NewTestHumanoid(page, 1)

		res, err := h.Keyboard().WalkFocusOrder(ctx, 50)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Empty(t, res.FocusTraps)
		assert.Nil(t, res.Start, "walk started on the body")
		assert.Equal(t, []string{"a#home", "button#submit", "input#email"}, selectors(res.FocusPath))
		require.NotNil(t, res.End)
		assert.Equal(t, "input#email", res.End.Selector)
		assert.Equal(t, 4, page.CallCount("DispatchKey"))
	})

	t.Run("Two Element Modal Is A Trap", func(t *testing.T) {
		page := fakepage.New("https://example.test/",
			fakepage.Button("open", "Open"),
			fakepage.Button("a", "A"),
			fakepage.Button("b", "B"),
			fakepage.Link("after", "/after", "After"),
		)
		page.SetTrap("button#b", "button#a")
		h := NewTestHumanoid(page, 1)

		res, err := h.Keyboard().WalkFocusOrder(ctx, 50)
		require.NoError(t, err)
		assert.False(t, res.Success)
		require.GreaterOrEqual(t, len(res.FocusTraps), 1)
		assert.Equal(t, []string{"button#a", "button#b"}, res.FocusTraps[0].Cycle)
		assert.Equal(t, 4, res.FocusTraps[0].Position)
		assert.False(t, res.Visited("a#after"))
		assert.Less(t, page.CallCount("DispatchKey"), 50, "walk stops once the trap is confirmed")
	})

	t.Run("Single Element Trap", func(t *testing.T) {
		page := fakepage.New("https://example.test/", fakepage.Button("stuck", "Stuck"), fakepage.Button("next", "Next"))
		page.SetTrap("button#stuck", "button#stuck")
		h := NewTestHumanoid(page, 1)

		res, err := h.Keyboard().WalkFocusOrder(ctx, 10)
		require.NoError(t, err)
		require.Len(t, res.FocusTraps, 1)
		assert.Equal(t, []string{"button#stuck"}, res.FocusTraps[0].Cycle)
	})

	t.Run("Started Mid Page Returns To Start", func(t *testing.T) {
		page := fakepage.New("https://example.test/", fakepage.Button("a", "A"), fakepage.Button("b", "B"))
		require.NoError(t, page.Focus(ctx, "button#b"))
		h := NewTestHumanoid(page, 1)

		res, err := h.Keyboard().WalkFocusOrder(ctx, 10)
		require.NoError(t, err)
		assert.True(t, res.Success)
		require.NotNil(t, res.Start)
		assert.Equal(t, "button#b", res.Start.Selector)
		assert.Equal(t, []string{"button#a", "button#b"}, selectors(res.FocusPath))
	})

	t.Run("Session Loss Is Surfaced", func(t *testing.T) {
		page := fakepage.New("https://example.test/", fakepage.Button("a", "A"))
		page.Fail("DispatchKey", schemas.ErrSessionLost, -1)
		h := NewTestHumanoid(page, 1)

		res, err := h.Keyboard().WalkFocusOrder(ctx, 10)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrSessionLost)
		assert.NotEmpty(t, res.Errors)
	})
}

func TestSimulateKeySequenceAndType(t *testing.T) {
	ctx := context.Background()
	page := fakepage.New("https://example.test/", fakepage.Input("q", "Search"), fakepage.Button("go", "Go"))
	h := NewTestHumanoid(page, 7)

	require.NoError(t, h.Keyboard().Type(ctx, "input#q", "hi"))
	assert.Equal(t, "hi", page.Typed("input#q"))

	require.NoError(t, h.Keyboard().SimulateKeySequence(ctx, []string{"Tab", "Enter"}))
	assert.Equal(t, "button#go", page.ActiveSelector())
	assert.Equal(t, 1, page.Activations("button#go"))

	err := h.Keyboard().SimulateKeySequence(ctx, []string{"Tab", "bogus+x"})
	assert.Error(t, err)
	assert.Equal(t, "button#go", page.ActiveSelector(), "nothing is sent when a key fails to parse")
}

func TestInterpolatePath(t *testing.T) {
	h := NewTestHumanoid(fakepage.New("about:blank"), 3)
	start, end := Vector2D{X: 0, Y: 0}, Vector2D{X: 300, Y: 100}

	path := h.interpolatePath(start, end, 12)
	require.Len(t, path, 12)
	assert.Equal(t, end, path[len(path)-1])
	for _, p := range path {
		assert.LessOrEqual(t, p.Dist(start), start.Dist(end)+15, "points stay near the segment")
	}
	assert.Equal(t, []Vector2D{end}, h.interpolatePath(end, end, 5))
}

func TestPointerClick(t *testing.T) {
	ctx := context.Background()

	t.Run("Keyboard Reachable Button Passes", func(t *testing.T) {
		page := fakepage.New("https://example.test/", fakepage.Button("go", "Go").WithBox(100, 100, 80, 30))
		h := NewTestHumanoid(page, 5)

		res, err := h.Pointer().Click(ctx, "button#go")
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.True(t, res.KeyboardActivatable)
		assert.Equal(t, 1, page.Clicks("button#go"))
		require.NotNil(t, res.FocusAfter)
		assert.Equal(t, "button#go", res.FocusAfter.Selector)
	})

	t.Run("Clickable Div Fails Keyboard Cross Check", func(t *testing.T) {
		page := fakepage.New("https://example.test/",
			fakepage.Button("first", "First").WithBox(10, 10, 80, 30),
			fakepage.Div("widget", "Widget").WithClickHandler().WithBox(10, 60, 80, 30),
		)
		h := NewTestHumanoid(page, 5)

		res, err := h.Pointer().Click(ctx, "div#widget")
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.False(t, res.KeyboardActivatable)
		assert.Contains(t, res.Reasons[0], "keyboard")
		assert.Equal(t, 1, page.Clicks("div#widget"), "the click still happens")
	})

	t.Run("Supplied Focus Path Skips The Walk", func(t *testing.T) {
		page := fakepage.New("https://example.test/", fakepage.Button("go", "Go").WithBox(100, 100, 80, 30))
		h := NewTestHumanoid(page, 5)
		h.Pointer().SetFocusPath(schemas.FocusNavigationResult{FocusPath: []schemas.NodeInfo{{Selector: "button#go"}}})

		_, err := h.Pointer().Click(ctx, "button#go")
		require.NoError(t, err)
		assert.Zero(t, page.CallCount("DispatchKey"))
	})

	t.Run("Invisible Target", func(t *testing.T) {
		page := fakepage.New("https://example.test/", fakepage.Button("ghost", "Ghost").Hidden())
		h := NewTestHumanoid(page, 5)

		res, err := h.Pointer().Click(ctx, "button#ghost")
		require.NoError(t, err)
		assert.False(t, res.Passed)
	})

	t.Run("Missing Target", func(t *testing.T) {
		h := NewTestHumanoid(fakepage.New("https://example.test/"), 5)
		_, err := h.Pointer().Click(ctx, "#nope")
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)
	})
}

func TestPointerDragAndTap(t *testing.T) {
	ctx := context.Background()
	page := fakepage.New("https://example.test/",
		fakepage.Button("handle", "Handle").WithBox(10, 10, 40, 40),
		fakepage.Div("zone", "Drop").WithBox(300, 10, 200, 200),
		fakepage.Button("tiny", "x").WithBox(10, 300, 16, 16),
	)
	h := NewTestHumanoid(page, 9)

	res, err := h.Pointer().Drag(ctx, "button#handle", "div#zone")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.True(t, res.KeyboardActivatable)
	assert.Equal(t, 1, page.Clicks("div#zone"), "release lands on the drop zone")

	res, err = h.Pointer().Tap(ctx, "button#tiny")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "below 24x24")
	assert.Equal(t, 1, page.Clicks("button#tiny"))
}

// cancelOnPress cancels the interaction as soon as the button goes down.
type cancelOnPress struct {
	*fakepage.Page
	cancel context.CancelFunc
}

func (c cancelOnPress) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	err := c.Page.DispatchMouseEvent(ctx, data)
	if data.Type == schemas.MousePress {
		c.cancel()
	}
	return err
}

func TestPointerCancellationReleasesButton(t *testing.T) {
	page := fakepage.New("https://example.test/", fakepage.Button("go", "Go").WithBox(100, 100, 80, 30))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewTestHumanoid(cancelOnPress{Page: page, cancel: cancel}, 5)
	h.cfg.Enabled = true
	h.cfg.ClickHoldMinMs, h.cfg.ClickHoldMaxMs = 5000, 5000
	h.Pointer().SetFocusPath(schemas.FocusNavigationResult{FocusPath: []schemas.NodeInfo{{Selector: "button#go"}}})

	_, err := h.Pointer().Click(ctx, "button#go")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, page.Clicks("button#go"), "the button is released despite cancellation")
}
