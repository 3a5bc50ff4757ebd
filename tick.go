package conduit

import (
	"time"

	"github.com/ygrebnov/conduit/metrics"
)

// Timer is a tiny stopwatch helper, ported in spirit from
// puma/helpers/timer/timer.py: start it once, then read Elapsed() as many
// times as needed without resetting it. Used here to measure the actual
// wall-clock gap between consecutive tick fires for the tick-interval
// histogram metric.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer running from now.
func NewTimer() Timer { return Timer{start: time.Now()} }

// Elapsed returns the duration since the Timer was started.
func (t Timer) Elapsed() time.Duration { return time.Since(t.start) }

// tickState holds the loop-private tick clock. Mutated only from inside the
// servicing loop in response to TickSetInterval/TickPause/TickResume
// commands, so there is never a race on it — spec.md §4.3's whole
// rationale for making tick control a command variant instead of a direct
// method call.
type tickState struct {
	interval time.Duration
	paused   bool
	nextAt   time.Time
	lastAt   time.Time
	onTick   func(now time.Time) error

	sinceLast Timer
	haveLast  bool
	hist      metrics.Histogram
}

// SetTick configures the loop's periodic tick, grounded on
// original_source/puma/runnable/multi_buffer_servicing_runnable.py's
// _interval_to_next_tick/__tick_if_due. onTick receives a high-resolution
// "now" timestamp, not the nominal due time.
func (l *Loop) SetTick(interval time.Duration, onTick func(now time.Time) error) {
	l.tick = &tickState{interval: interval, onTick: onTick, nextAt: time.Now().Add(interval), hist: tickIntervalHistogram(l.name)}
}

func (l *Loop) tickSetInterval(d time.Duration) {
	if l.tick == nil {
		l.tick = &tickState{interval: d, nextAt: time.Now().Add(d), hist: tickIntervalHistogram(l.name)}
		return
	}
	old := l.tick.interval
	l.tick.interval = d
	if !l.tick.paused {
		l.tick.nextAt = l.tick.nextAt.Add(d - old)
	}
}

func (l *Loop) tickPause() {
	if l.tick != nil {
		l.tick.paused = true
	}
}

func (l *Loop) tickResume() {
	if l.tick != nil && l.tick.paused {
		l.tick.paused = false
		l.tick.nextAt = time.Now().Add(l.tick.interval)
	}
}

// nextWaitDuration reports how long the loop should wait on its event
// channel before re-checking ticks. ok is false when there is no tick
// configured, or it is paused, meaning the wait should be infinite.
func (l *Loop) nextWaitDuration() (time.Duration, bool) {
	if l.tick == nil || l.tick.paused {
		return 0, false
	}
	d := time.Until(l.tick.nextAt)
	if d < 0 {
		d = 0
	}
	return d, true
}

// tickIfDue fires the tick callback at most once per wake, only if the next
// tick time has arrived. Missed ticks are never caught up: the next tick is
// always scheduled at now + interval, never at nextAt + interval, per
// spec.md §4.3.
func (l *Loop) tickIfDue() error {
	if l.tick == nil || l.tick.paused {
		return nil
	}
	now := time.Now()
	if now.Before(l.tick.nextAt) {
		return nil
	}
	if l.tick.haveLast {
		l.tick.hist.Record(l.tick.sinceLast.Elapsed().Seconds())
	}
	l.tick.sinceLast = NewTimer()
	l.tick.haveLast = true
	l.tick.nextAt = now.Add(l.tick.interval)
	l.tick.lastAt = now
	if l.tick.onTick != nil {
		return l.tick.onTick(now)
	}
	return nil
}
