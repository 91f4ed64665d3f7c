package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"retail-platform/telemetry/internal/telemetry/clock"
)

var epoch = time.Date(2026, 4, 4, 0, 0, 0, 0, time.UTC)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestTriggerCritical_CoalescesWithinWindow(t *testing.T) {
	clk := clock.NewFake(epoch)
	var flushes atomic.Int32
	s := New(func(context.Context) { flushes.Add(1) }, Config{Clock: clk})

	s.TriggerCritical()
	clk.Advance(40 * time.Millisecond)
	s.TriggerCritical()
	s.TriggerCritical()
	if clk.PendingTimers() != 1 {
		t.Fatalf("pending timers = %d, want 1", clk.PendingTimers())
	}
	clk.Advance(60 * time.Millisecond)
	if got := flushes.Load(); got != 1 {
		t.Fatalf("flushes = %d, want 1", got)
	}

	s.TriggerCritical()
	clk.Advance(DefaultDebounce)
	if got := flushes.Load(); got != 2 {
		t.Fatalf("flushes after second window = %d, want 2", got)
	}
}

func TestTriggerCritical_FiresBeforeNextTick(t *testing.T) {
	clk := clock.NewFake(epoch)
	var flushes atomic.Int32
	s := New(func(context.Context) { flushes.Add(1) }, Config{Clock: clk})
	s.Start(context.Background())
	defer s.Stop()

	s.TriggerCritical()
	clk.Advance(DefaultDebounce)
	if got := flushes.Load(); got != 1 {
		t.Fatalf("flushes = %d, want 1 within debounce window", got)
	}
}

func TestStart_TicksInvokeFlush(t *testing.T) {
	clk := clock.NewFake(epoch)
	var flushes atomic.Int32
	s := New(func(context.Context) { flushes.Add(1) }, Config{Clock: clk, Interval: time.Second})
	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	clk.Advance(time.Second)
	waitFor(t, func() bool { return flushes.Load() == 1 })
	clk.Advance(time.Second)
	waitFor(t, func() bool { return flushes.Load() == 2 })
}

func TestStop_CancelsPendingTrigger(t *testing.T) {
	clk := clock.NewFake(epoch)
	var flushes atomic.Int32
	s := New(func(context.Context) { flushes.Add(1) }, Config{Clock: clk})
	s.Start(context.Background())
	s.TriggerCritical()
	s.Stop()
	clk.Advance(time.Minute)
	if got := flushes.Load(); got != 0 {
		t.Fatalf("flushes after Stop = %d, want 0", got)
	}
	s.Stop()
}

func TestRun_RecoversPanics(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := New(func(context.Context) { panic("transport exploded") }, Config{Clock: clk})
	s.TriggerCritical()
	clk.Advance(DefaultDebounce)
	// Reaching here means the panic did not escape.
	s.TriggerCritical()
	if clk.PendingTimers() != 1 {
		t.Fatal("scheduler should accept new triggers after a panicking flush")
	}
}
