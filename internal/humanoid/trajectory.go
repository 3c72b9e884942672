// internal/humanoid/trajectory.go
package humanoid

import (
	"math"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// Path bow is at most this fraction of the travel distance, in pixels.
const maxWobbleRatio = 0.04

// computeEaseInOutCubic gives the path slow ends and a fast middle.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// interpolatePath returns steps points from start (exclusive) to end
// (inclusive). Points follow an eased line with a Perlin-noise bow
// perpendicular to it that vanishes at both ends, so the path starts and
// finishes exactly on its anchors.
func (h *Humanoid) interpolatePath(start, end Vector2D, steps int) []Vector2D {
	if steps < 1 {
		steps = 1
	}
	dist := start.Dist(end)
	if dist < 1.0 {
		return []Vector2D{end}
	}
	normal := end.Sub(start).Normalize().Perp()
	amplitude := math.Min(dist*maxWobbleRatio, 12)

	h.mu.Lock()
	offset := h.noiseTime
	h.noiseTime += 1.0
	h.mu.Unlock()

	path := make([]Vector2D, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		eased := computeEaseInOutCubic(t)
		p := start.Add(end.Sub(start).Mul(eased))
		if i < steps {
			envelope := math.Sin(math.Pi * t)
			wobble := h.noise.Noise1D(offset+t) * amplitude * envelope
			p = p.Add(normal.Mul(wobble))
		}
		path = append(path, p)
	}
	path[len(path)-1] = end
	return path
}

// aimPoint picks a point inside box near its center. Humans rarely hit the
// exact center, but they stay well inside the target.
func (h *Humanoid) aimPoint(box schemas.BoundingBox) Vector2D {
	cx, cy := box.Center()
	h.mu.Lock()
	jx := (h.rng.Float64()*2 - 1) * box.Width * 0.15
	jy := (h.rng.Float64()*2 - 1) * box.Height * 0.15
	h.mu.Unlock()
	return Vector2D{X: cx + jx, Y: cy + jy}
}
