// internal/perception/diff.go
package perception

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// StateDiff is what changed between two snapshots, keyed by selector.
type StateDiff struct {
	Added        []string
	Removed      []string
	StyleChanged []string
	Moved        []string
	URLChanged   bool
	FocusChanged bool
}

// Empty reports whether the snapshots are equivalent.
func (d StateDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.StyleChanged) == 0 &&
		len(d.Moved) == 0 && !d.URLChanged && !d.FocusChanged
}

// boxTolerance ignores sub-pixel layout jitter.
var boxTolerance = cmpopts.EquateApprox(0, 0.5)

// DiffStates compares two snapshots. A nil before treats every element of
// after as added.
func DiffStates(before, after *schemas.PerceivedState) StateDiff {
	var d StateDiff
	if after == nil {
		return d
	}
	if before == nil {
		for _, el := range after.Elements() {
			d.Added = append(d.Added, el.Selector)
		}
		return d
	}

	d.URLChanged = before.URL() != after.URL()
	ba, bok := before.ActiveElement()
	aa, aok := after.ActiveElement()
	d.FocusChanged = bok != aok || ba.Selector != aa.Selector

	seen := make(map[string]bool, after.Len())
	for _, el := range after.Elements() {
		seen[el.Selector] = true
		prev, ok := before.Element(el.Selector)
		if !ok {
			d.Added = append(d.Added, el.Selector)
			continue
		}
		if !cmp.Equal(prev.Style, el.Style, cmpopts.EquateEmpty()) {
			d.StyleChanged = append(d.StyleChanged, el.Selector)
		}
		if !cmp.Equal(prev.Box, el.Box, boxTolerance) {
			d.Moved = append(d.Moved, el.Selector)
		}
	}
	for _, el := range before.Elements() {
		if !seen[el.Selector] {
			d.Removed = append(d.Removed, el.Selector)
		}
	}
	return d
}
