package conduit

import (
	"testing"
	"time"
)

func TestLoop_SetTick_InitializesNextAt(t *testing.T) {
	l := &Loop{}
	l.SetTick(10*time.Millisecond, func(time.Time) error { return nil })
	if l.tick == nil {
		t.Fatal("tick is nil after SetTick")
	}
	if d, ok := l.nextWaitDuration(); !ok || d > 10*time.Millisecond {
		t.Fatalf("nextWaitDuration() = (%s, %v); want <= 10ms, true", d, ok)
	}
}

func TestLoop_TickIfDue_FiresOnlyOncePastDeadline(t *testing.T) {
	l := &Loop{}
	var fired int
	l.SetTick(5*time.Millisecond, func(time.Time) error { fired++; return nil })
	l.tick.nextAt = time.Now().Add(-time.Millisecond) // force due

	if err := l.tickIfDue(); err != nil {
		t.Fatalf("tickIfDue: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d; want 1", fired)
	}

	// Immediately calling again should not fire again: nextAt was rescheduled
	// to now + interval, which is in the future.
	if err := l.tickIfDue(); err != nil {
		t.Fatalf("tickIfDue (second call): %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d after second call; want still 1", fired)
	}
}

func TestLoop_TickIfDue_MissedTicksAreNotCaughtUp(t *testing.T) {
	l := &Loop{}
	var fired int
	l.SetTick(5*time.Millisecond, func(time.Time) error { fired++; return nil })
	// Simulate having missed several ticks' worth of wall-clock time.
	l.tick.nextAt = time.Now().Add(-50 * time.Millisecond)

	before := time.Now()
	if err := l.tickIfDue(); err != nil {
		t.Fatalf("tickIfDue: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d; want exactly 1 regardless of how many intervals were missed", fired)
	}
	// nextAt is rescheduled from "now", not from the old nextAt + interval.
	if l.tick.nextAt.Before(before) {
		t.Fatalf("nextAt = %s; want scheduled from now (>= %s)", l.tick.nextAt, before)
	}
}

func TestLoop_TickIfDue_NotYetDueDoesNotFire(t *testing.T) {
	l := &Loop{}
	var fired int
	l.SetTick(time.Hour, func(time.Time) error { fired++; return nil })
	if err := l.tickIfDue(); err != nil {
		t.Fatalf("tickIfDue: %v", err)
	}
	if fired != 0 {
		t.Fatalf("fired = %d; want 0 (not due yet)", fired)
	}
}

func TestLoop_TickPauseResume_SuspendsAndReschedules(t *testing.T) {
	l := &Loop{}
	var fired int
	l.SetTick(5*time.Millisecond, func(time.Time) error { fired++; return nil })
	l.tick.nextAt = time.Now().Add(-time.Millisecond)

	l.tickPause()
	if _, ok := l.nextWaitDuration(); ok {
		t.Fatal("nextWaitDuration() ok = true while paused; want false")
	}
	if err := l.tickIfDue(); err != nil {
		t.Fatalf("tickIfDue while paused: %v", err)
	}
	if fired != 0 {
		t.Fatalf("fired = %d while paused; want 0", fired)
	}

	l.tickResume()
	if l.tick.paused {
		t.Fatal("tick still paused after tickResume")
	}
	if d, ok := l.nextWaitDuration(); !ok || d > 5*time.Millisecond {
		t.Fatalf("nextWaitDuration() after resume = (%s, %v); want <= 5ms, true", d, ok)
	}
}

func TestLoop_TickSetInterval_PreservesPhaseWhenRunning(t *testing.T) {
	l := &Loop{}
	l.SetTick(10*time.Millisecond, func(time.Time) error { return nil })
	originalNextAt := l.tick.nextAt

	l.tickSetInterval(20 * time.Millisecond)
	if l.tick.interval != 20*time.Millisecond {
		t.Fatalf("interval = %s; want 20ms", l.tick.interval)
	}
	wantNextAt := originalNextAt.Add(10 * time.Millisecond)
	if !l.tick.nextAt.Equal(wantNextAt) {
		t.Fatalf("nextAt = %s; want %s (shifted by the interval delta)", l.tick.nextAt, wantNextAt)
	}
}

func TestLoop_TickSetInterval_WhenNoTickConfigured_CreatesOne(t *testing.T) {
	l := &Loop{}
	l.tickSetInterval(15 * time.Millisecond)
	if l.tick == nil {
		t.Fatal("tick is nil after tickSetInterval on an unconfigured loop")
	}
	if l.tick.interval != 15*time.Millisecond {
		t.Fatalf("interval = %s; want 15ms", l.tick.interval)
	}
}

func TestLoop_NextWaitDuration_NoTickConfigured(t *testing.T) {
	l := &Loop{}
	if _, ok := l.nextWaitDuration(); ok {
		t.Fatal("nextWaitDuration() ok = true with no tick configured; want false")
	}
}
