// internal/humanoid/humanoid.go
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/config"
)

// Channel is the slice of the control channel the simulators drive.
type Channel interface {
	schemas.InputChannel
	ActiveElement(ctx context.Context) (schemas.NodeInfo, bool, error)
	BoundingRect(ctx context.Context, selector string) (schemas.BoundingBox, error)
	QueryElement(ctx context.Context, selector string) (schemas.NodeInfo, error)
}

// Humanoid holds the timing model and pointer state shared by the keyboard
// and pointer simulators of one session.
type Humanoid struct {
	// mu guards rng, noise and currentPos. The channel itself serializes
	// operations, so mu is never held across a channel call.
	mu         sync.Mutex
	cfg        config.HumanoidConfig
	logger     *zap.Logger
	ch         Channel
	rng        *rand.Rand
	noise      *perlin.Perlin
	noiseTime  float64
	currentPos Vector2D

	keyboard *Keyboard
	pointer  *Pointer
}

// New creates a Humanoid seeded from the clock.
func New(cfg config.HumanoidConfig, logger *zap.Logger, ch Channel) *Humanoid {
	return newHumanoid(cfg, logger, ch, time.Now().UnixNano())
}

// NewTestHumanoid is deterministic and never sleeps.
func NewTestHumanoid(ch Channel, seed int64) *Humanoid {
	cfg := config.NewDefaultConfig().Humanoid()
	cfg.Enabled = false
	return newHumanoid(cfg, zap.NewNop(), ch, seed)
}

func newHumanoid(cfg config.HumanoidConfig, logger *zap.Logger, ch Channel, seed int64) *Humanoid {
	if cfg.TrapWindow < 2 {
		cfg.TrapWindow = 4
	}
	if cfg.DragSteps <= 0 {
		cfg.DragSteps = 12
	}
	h := &Humanoid{
		cfg:    cfg,
		logger: logger.Named("humanoid"),
		ch:     ch,
		rng:    rand.New(rand.NewSource(seed)),
		// Standard Perlin parameters: alpha 2, beta 2, three octaves.
		noise: perlin.NewPerlin(2, 2, 3, seed),
	}
	h.keyboard = &Keyboard{h: h}
	h.pointer = &Pointer{h: h}
	return h
}

func (h *Humanoid) Keyboard() *Keyboard { return h.keyboard }

func (h *Humanoid) Pointer() *Pointer { return h.pointer }

// sleep pauses for d unless timing is disabled. It always honors ctx.
func (h *Humanoid) sleep(ctx context.Context, d time.Duration) error {
	if !h.cfg.Enabled || d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// gaussianMs samples N(mean, stddev) milliseconds with a floor.
func (h *Humanoid) gaussianMs(mean, stddev, min float64) time.Duration {
	h.mu.Lock()
	n := h.rng.NormFloat64()
	h.mu.Unlock()
	ms := n*stddev + mean
	if ms < min {
		ms = min
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (h *Humanoid) keyHoldDuration() time.Duration {
	return h.gaussianMs(h.cfg.KeyHoldMeanMs, h.cfg.KeyHoldStdDevMs, 20)
}

func (h *Humanoid) keyPauseDuration() time.Duration {
	return h.gaussianMs(h.cfg.KeyPauseMeanMs, h.cfg.KeyPauseStdDevMs, h.cfg.KeyPauseMinMs)
}

func (h *Humanoid) clickHoldDuration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	lo, hi := h.cfg.ClickHoldMinMs, h.cfg.ClickHoldMaxMs
	ms := lo
	if hi > lo {
		ms += h.rng.Intn(hi - lo + 1)
	}
	return time.Duration(ms) * time.Millisecond
}
