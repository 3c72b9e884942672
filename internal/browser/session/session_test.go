// internal/browser/session/session_test.go
package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/config"
)

func newDetachedSession(t *testing.T) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg := config.NewDefaultConfig().Browser()
	return newSession(ctx, cancel, 1, target.ID("T1"), cfg, zaptest.NewLogger(t))
}

func TestTabRegistry(t *testing.T) {
	r := newTabRegistry()

	a := r.assign("A")
	b := r.assign("B")
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, a, r.assign("A"), "ids are stable across listings")

	require.NoError(t, r.claim(a))
	err := r.claim(a)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrTargetAttached)
	assert.True(t, r.isAttached(a))

	r.release(a)
	assert.False(t, r.isAttached(a))
	require.NoError(t, r.claim(a), "released tab can be claimed again")

	err = r.claim(99)
	assert.ErrorIs(t, err, schemas.ErrSessionUnavailable)

	r.forget("B")
	_, ok := r.lookup(b)
	assert.False(t, ok)
	assert.Equal(t, 3, r.assign("C"), "forgotten ids are never reused")
}

func TestLookupKey(t *testing.T) {
	tests := []struct {
		key     string
		code    string
		keyCode int64
		text    string
	}{
		{"Tab", "Tab", 9, ""},
		{"Enter", "Enter", 13, "\r"},
		{" ", "Space", 32, " "},
		{"a", "KeyA", 65, "a"},
		{"Z", "KeyZ", 90, "Z"},
		{"7", "Digit7", 55, "7"},
		{"F13", "F13", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			def := lookupKey(tt.key)
			assert.Equal(t, tt.code, def.code)
			assert.Equal(t, tt.keyCode, def.keyCode)
			assert.Equal(t, tt.text, def.text)
		})
	}
}

func TestKeyEvents(t *testing.T) {
	t.Run("Tab Is A Raw Key", func(t *testing.T) {
		evs := keyEvents(schemas.KeyEventData{Key: "Tab"})
		require.Len(t, evs, 2)
		assert.Equal(t, input.KeyRawDown, evs[0].Type)
		assert.Equal(t, input.KeyUp, evs[1].Type)
		assert.Equal(t, int64(9), evs[0].WindowsVirtualKeyCode)
		assert.Empty(t, evs[0].Text)
	})

	t.Run("Shift Tab Carries Modifier", func(t *testing.T) {
		evs := keyEvents(schemas.KeyEventData{Key: "Tab", Modifiers: schemas.ModShift})
		assert.Equal(t, input.ModifierShift, evs[0].Modifiers)
		assert.Equal(t, input.ModifierShift, evs[1].Modifiers)
	})

	t.Run("Printable Produces Text", func(t *testing.T) {
		evs := keyEvents(schemas.KeyEventData{Key: "x"})
		assert.Equal(t, input.KeyDown, evs[0].Type)
		assert.Equal(t, "x", evs[0].Text)
	})

	t.Run("Control Chord Suppresses Text", func(t *testing.T) {
		evs := keyEvents(schemas.KeyEventData{Key: "a", Modifiers: schemas.ModCtrl})
		assert.Equal(t, input.KeyRawDown, evs[0].Type)
		assert.Empty(t, evs[0].Text)
	})
}

func TestDecodeMutations(t *testing.T) {
	muts, err := decodeMutations(`[{"type":"childList","target":"ul#menu","tagName":"ul","interactive":true,"addedNodes":2}]`)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, schemas.MutationChildList, muts[0].Type)
	assert.Equal(t, "ul#menu", muts[0].Target)
	assert.True(t, muts[0].Interactive)
	assert.Equal(t, 2, muts[0].AddedNodes)

	_, err = decodeMutations(`{not json`)
	assert.Error(t, err)
}

func TestAttributeWritesAreMarkedOwn(t *testing.T) {
	set := setAttributeScript("div#menu", "tabindex", "0")
	assert.Contains(t, set, `window.__focusfix.own.push([el, "tabindex"])`)
	assert.Contains(t, set, `el.setAttribute("tabindex", "0")`)

	rm := removeAttributeScript("div#menu", "role")
	assert.Contains(t, rm, `window.__focusfix.own.push([el, "role"])`)
	assert.Contains(t, rm, `el.removeAttribute("role")`)

	assert.Contains(t, helperScript, "ownWrite(r)")
	assert.Contains(t, helperScript, "ownSheets(r)")
}

func TestApplyOverrides(t *testing.T) {
	off, on := false, true
	probed := schemas.Capabilities{SimulateInput: true, InjectStyle: true, ModifyDOM: true}
	got := applyOverrides(probed, config.CapabilityOverride{InjectStyle: &off, CaptureScreenshots: &on})
	assert.Equal(t, schemas.Capabilities{SimulateInput: true, InjectStyle: false, ModifyDOM: true, CaptureScreenshots: true}, got)
	assert.Equal(t, probed, applyOverrides(probed, config.CapabilityOverride{}))
}

func TestSubscribeAndPublish(t *testing.T) {
	s := newDetachedSession(t)

	events, unsubscribe := s.Subscribe(1)
	s.publish(schemas.PageEvent{Type: schemas.PageEventRoute, URL: "https://example.test/#a"})
	// Buffer is full; this one is dropped rather than blocking.
	s.publish(schemas.PageEvent{Type: schemas.PageEventRoute, URL: "https://example.test/#b"})

	ev := <-events
	assert.Equal(t, "https://example.test/#a", ev.URL)

	unsubscribe()
	unsubscribe()
	_, open := <-events
	assert.False(t, open, "unsubscribe closes the channel")
}

func TestTargetEventsDriveLossAndRoutes(t *testing.T) {
	s := newDetachedSession(t)
	events, unsubscribe := s.Subscribe(8)
	defer unsubscribe()

	s.onTargetEvent(&page.EventNavigatedWithinDocument{URL: "https://example.test/app#/settings"})
	ev := <-events
	assert.Equal(t, schemas.PageEventRoute, ev.Type)
	assert.Equal(t, "https://example.test/app#/settings", ev.URL)

	// Child frames never affect the session.
	s.onTargetEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ParentID: "parent", URL: "https://ads.test"}})
	assert.False(t, s.lost.Load())

	// Navigations the session drives itself are expected.
	s.navigating.Store(true)
	s.onTargetEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{URL: "https://example.test/next"}})
	assert.False(t, s.lost.Load())
	s.navigating.Store(false)

	s.onTargetEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{URL: "https://elsewhere.test"}})
	assert.True(t, s.lost.Load())
	ev = <-events
	assert.Equal(t, schemas.PageEventSessionLost, ev.Type)

	err := s.run(context.Background(), "noop")
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrSessionLost)
	assert.Contains(t, err.Error(), "elsewhere.test")
	assert.True(t, schemas.IsSessionError(err))
}

func TestCapabilityGate(t *testing.T) {
	s := newDetachedSession(t)
	s.caps = schemas.Capabilities{}

	err := s.InsertRule(context.Background(), "r1", "a:focus{outline:2px solid red}")
	assert.ErrorIs(t, err, schemas.ErrCapability)
	err = s.DispatchKey(context.Background(), schemas.KeyEventData{Key: "Tab"})
	assert.ErrorIs(t, err, schemas.ErrCapability)
	_, err = s.Screenshot(context.Background(), "")
	assert.ErrorIs(t, err, schemas.ErrCapability)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newDetachedSession(t)
	closed := 0
	s.onClose = func() { closed++ }
	events, _ := s.Subscribe(1)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, closed)

	_, open := <-events
	assert.False(t, open)
	assert.ErrorIs(t, s.run(context.Background(), "noop"), schemas.ErrSessionLost)
}

func TestCombineContext(t *testing.T) {
	type key struct{}
	primary := context.WithValue(context.Background(), key{}, "carried")
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := CombineContext(primary, secondary)
	defer cancel()
	assert.Equal(t, "carried", combined.Value(key{}))

	cancelSecondary()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not canceled by secondary")
	}
	assert.True(t, errors.Is(combined.Err(), context.Canceled))
}
