// Package engine provides the tick driver and the long-tick pipeline.
// Short ticks sample building state; long ticks run the full simulation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Defaults for the tick schedule.
const (
	DefaultLongTickInterval      = 5 * time.Minute
	DefaultShortTicksPerLongTick = 5
	DefaultMaxCatchUp            = 10
)

// Progress reports what one Advance call did.
type Progress struct {
	LongTicks   int  // Long ticks executed
	ShortTicks  int  // Short ticks executed
	Pending     int  // Long ticks still due, deferred to the next call
	FastForward bool // Pending > 0; callers may show a progress indicator
}

// Engine drives the simulation forward in wall-clock time, strictly in
// chronological order. It is not safe for concurrent use.
type Engine struct {
	LongTickInterval      time.Duration
	ShortTicksPerLongTick int
	MaxCatchUp            int           // Long ticks per Advance call
	PollInterval          time.Duration // How often Run calls Advance

	// Callbacks for each tick layer, populated during setup.
	OnShortTick func(at time.Time)
	OnLongTick  func(at time.Time, catchingUp bool) // catchingUp: more long ticks are already due
	OnProgress  func(p Progress)                    // After every Advance that did work

	lastLong  time.Time
	lastShort time.Time
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		LongTickInterval:      DefaultLongTickInterval,
		ShortTicksPerLongTick: DefaultShortTicksPerLongTick,
		MaxCatchUp:            DefaultMaxCatchUp,
	}
}

// Resume sets the times of the last executed ticks, e.g. from storage.
// Zero values start the schedule at the first Advance call.
func (e *Engine) Resume(lastLong, lastShort time.Time) {
	e.lastLong = lastLong
	e.lastShort = lastShort
	if e.lastShort.Before(e.lastLong) {
		e.lastShort = e.lastLong
	}
}

// LastLongTick returns the scheduled time of the last executed long tick.
func (e *Engine) LastLongTick() time.Time { return e.lastLong }

func (e *Engine) shortInterval() time.Duration {
	n := e.ShortTicksPerLongTick
	if n <= 0 {
		n = 1
	}
	return e.LongTickInterval / time.Duration(n)
}

// Advance runs every tick due by now, short ticks before the long tick they
// precede, up to MaxCatchUp long ticks. Once the cap is hit no further
// short tick runs either.
func (e *Engine) Advance(now time.Time) Progress {
	var p Progress
	if e.LongTickInterval <= 0 {
		return p
	}
	if e.lastLong.IsZero() {
		e.lastLong, e.lastShort = now, now
		return p
	}

	short := e.shortInterval()
	limit := max(1, e.MaxCatchUp)
	for {
		nextLong := e.lastLong.Add(e.LongTickInterval)
		nextShort := e.lastShort.Add(short)
		if short > 0 && p.LongTicks < limit && !nextShort.After(nextLong) && !nextShort.After(now) {
			e.lastShort = nextShort
			if e.OnShortTick != nil {
				e.OnShortTick(nextShort)
			}
			p.ShortTicks++
			continue
		}
		if nextLong.After(now) || p.LongTicks >= limit {
			break
		}
		e.lastLong = nextLong
		if e.lastShort.Before(nextLong) {
			e.lastShort = nextLong
		}
		if e.OnLongTick != nil {
			e.OnLongTick(nextLong, now.Sub(nextLong) >= e.LongTickInterval)
		}
		p.LongTicks++
	}

	p.Pending = int(now.Sub(e.lastLong) / e.LongTickInterval)
	p.FastForward = p.Pending > 0
	if p.FastForward {
		slog.Info("fast-forwarding", "ran", p.LongTicks, "pending", p.Pending)
	}
	if e.OnProgress != nil && (p.LongTicks > 0 || p.ShortTicks > 0) {
		e.OnProgress(p)
	}
	return p
}

// Run schedules Advance until ctx is cancelled. While fast-forwarding the
// next call is made immediately instead of after PollInterval. A tick in
// progress always completes; cancellation only stops further scheduling.
func (e *Engine) Run(ctx context.Context, now func() time.Time) error {
	poll := e.PollInterval
	if poll <= 0 {
		poll = e.shortInterval()
	}
	if poll <= 0 {
		poll = time.Second
	}
	slog.Info("simulation engine started", "long_tick", e.LongTickInterval, "poll", poll)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		if err := ctx.Err(); err != nil {
			slog.Info("simulation engine stopped", "last_long_tick", e.lastLong)
			return err
		}
		p := e.Advance(now())
		if p.FastForward {
			timer.Reset(0)
		} else {
			timer.Reset(poll)
		}
	}
}

// SimDay returns a human-readable simulation time from a long tick count.
func SimDay(longTicks uint64, ticksPerDay int) string {
	if ticksPerDay <= 0 {
		ticksPerDay = 1
	}
	day := longTicks/uint64(ticksPerDay) + 1
	hour := (longTicks % uint64(ticksPerDay)) * 24 / uint64(ticksPerDay)
	return fmt.Sprintf("Day %d, %02d:00", day, hour)
}
