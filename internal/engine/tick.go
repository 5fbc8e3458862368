package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// MaxSpeed caps the speed multiplier.
const MaxSpeed = 100

// Clock drives a World forward. Wall-clock time only paces the ticks;
// nothing inside the simulation reads it.
type Clock struct {
	world    *World
	Interval time.Duration // Base tick interval at speed 1

	// CheckpointEvery calls OnCheckpoint after every N committed ticks.
	CheckpointEvery uint64

	OnTick       func(report TickReport)
	OnCheckpoint func(tick uint64)

	mu    sync.Mutex
	speed float64 // 1.0 = real time, 0 = paused
}

// NewClock creates a clock at speed 1.
func NewClock(w *World, interval time.Duration) *Clock {
	return &Clock{world: w, Interval: interval, speed: 1}
}

// Speed returns the current multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetSpeed changes the multiplier; 0 pauses.
func (c *Clock) SetSpeed(s float64) error {
	if math.IsNaN(s) || s < 0 || s > MaxSpeed {
		return fmt.Errorf("speed must be within [0, %d], got %v", MaxSpeed, s)
	}
	c.mu.Lock()
	c.speed = s
	c.mu.Unlock()
	slog.Info("clock speed changed", "speed", s)
	return nil
}

// Run advances ticks until ctx is done.
func (c *Clock) Run(ctx context.Context) {
	slog.Info("simulation clock started", "tick", c.world.Tick(), "speed", c.Speed(), "interval", c.Interval)
	defer func() { slog.Info("simulation clock stopped", "tick", c.world.Tick()) }()

	for {
		speed := c.Speed()
		if speed <= 0 {
			if !sleep(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}

		start := time.Now()
		c.step()

		target := time.Duration(float64(c.Interval) / speed)
		if elapsed := time.Since(start); elapsed < target {
			if !sleep(ctx, target-elapsed) {
				return
			}
		} else if ctx.Err() != nil {
			return
		}
	}
}

// step runs one tick and its hooks.
func (c *Clock) step() {
	report, err := c.world.Step()
	if err != nil {
		// The world already rolled the tick back; it is retried next time.
		slog.Warn("tick will be retried", "tick", report.Tick, "err", err)
	}
	if c.OnTick != nil {
		c.OnTick(report)
	}
	if report.Aborted || c.CheckpointEvery == 0 || c.OnCheckpoint == nil {
		return
	}
	if committed := report.Tick + 1; committed%c.CheckpointEvery == 0 {
		c.OnCheckpoint(committed)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
