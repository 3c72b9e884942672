// internal/browser/session/keys.go
package session

import (
	"github.com/chromedp/cdproto/input"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// keyDefinition carries what Chrome needs to treat a synthetic key as a real
// one. Without a virtual key code, Tab does not move focus.
type keyDefinition struct {
	code    string
	keyCode int64
	text    string
}

var namedKeys = map[string]keyDefinition{
	"Tab":        {code: "Tab", keyCode: 9},
	"Enter":      {code: "Enter", keyCode: 13, text: "\r"},
	"Escape":     {code: "Escape", keyCode: 27},
	" ":          {code: "Space", keyCode: 32, text: " "},
	"Space":      {code: "Space", keyCode: 32, text: " "},
	"Backspace":  {code: "Backspace", keyCode: 8},
	"ArrowLeft":  {code: "ArrowLeft", keyCode: 37},
	"ArrowUp":    {code: "ArrowUp", keyCode: 38},
	"ArrowRight": {code: "ArrowRight", keyCode: 39},
	"ArrowDown":  {code: "ArrowDown", keyCode: 40},
	"Home":       {code: "Home", keyCode: 36},
	"End":        {code: "End", keyCode: 35},
	"PageUp":     {code: "PageUp", keyCode: 33},
	"PageDown":   {code: "PageDown", keyCode: 34},
}

// lookupKey resolves a DOM key value. Single printable characters map to
// their uppercase virtual key code.
func lookupKey(key string) keyDefinition {
	if def, ok := namedKeys[key]; ok {
		return def
	}
	if len(key) == 1 {
		c := key[0]
		switch {
		case c >= 'a' && c <= 'z':
			return keyDefinition{code: "Key" + string(c-32), keyCode: int64(c - 32), text: key}
		case c >= 'A' && c <= 'Z':
			return keyDefinition{code: "Key" + key, keyCode: int64(c), text: key}
		case c >= '0' && c <= '9':
			return keyDefinition{code: "Digit" + key, keyCode: int64(c), text: key}
		}
		return keyDefinition{text: key}
	}
	return keyDefinition{code: key}
}

func cdpModifiers(m schemas.KeyModifier) input.Modifier {
	var out input.Modifier
	if m&schemas.ModAlt != 0 {
		out |= input.ModifierAlt
	}
	if m&schemas.ModCtrl != 0 {
		out |= input.ModifierCtrl
	}
	if m&schemas.ModMeta != 0 {
		out |= input.ModifierMeta
	}
	if m&schemas.ModShift != 0 {
		out |= input.ModifierShift
	}
	return out
}

// keyEvents builds the keyDown/keyUp pair for one press.
func keyEvents(data schemas.KeyEventData) []*input.DispatchKeyEventParams {
	def := lookupKey(data.Key)
	mods := cdpModifiers(data.Modifiers)

	downType := input.KeyRawDown
	if def.text != "" && data.Modifiers&(schemas.ModCtrl|schemas.ModMeta|schemas.ModAlt) == 0 {
		downType = input.KeyDown
	}
	down := input.DispatchKeyEvent(downType).
		WithKey(data.Key).
		WithCode(def.code).
		WithModifiers(mods).
		WithWindowsVirtualKeyCode(def.keyCode).
		WithNativeVirtualKeyCode(def.keyCode)
	if downType == input.KeyDown {
		down = down.WithText(def.text).WithUnmodifiedText(def.text)
	}
	up := input.DispatchKeyEvent(input.KeyUp).
		WithKey(data.Key).
		WithCode(def.code).
		WithModifiers(mods).
		WithWindowsVirtualKeyCode(def.keyCode).
		WithNativeVirtualKeyCode(def.keyCode)
	return []*input.DispatchKeyEventParams{down, up}
}
