package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAdd_RejectsBadInput(t *testing.T) {
	s := New(zap.NewNop())
	if err := s.Add("night", "not a cron", func(context.Context) {}); err == nil {
		t.Fatal("invalid expression must be rejected")
	}
	if err := s.Add("night", "0 3 * * *", nil); err == nil {
		t.Fatal("nil run func must be rejected")
	}
	if err := s.Add("night", "0 3 * * *", func(context.Context) {}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add("night", "0 4 * * *", func(context.Context) {}); err == nil {
		t.Fatal("duplicate name must be rejected")
	}
}

func TestTick_FiresOncePerDay(t *testing.T) {
	clock := time.Date(2026, 3, 10, 3, 0, 10, 0, time.UTC)
	s := New(zap.NewNop(), WithClock(func() time.Time { return clock }))

	var runs int32
	done := make(chan struct{}, 4)
	if err := s.Add("night", "0 3 * * *", func(context.Context) {
		atomic.AddInt32(&runs, 1)
		done <- struct{}{}
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.tick()
	<-done
	// Next poll lands inside the same firing window.
	clock = clock.Add(30 * time.Second)
	s.tick()
	// Later the same day, outside the window.
	clock = clock.Add(6 * time.Hour)
	s.tick()
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("runs = %d, want exactly 1 for the day", got)
	}

	// Next day fires again.
	clock = time.Date(2026, 3, 11, 3, 0, 20, 0, time.UTC)
	s.tick()
	<-done
	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Fatalf("runs = %d, want 2 after the next day's window", got)
	}
}

func TestTick_SkipsOutsideWindow(t *testing.T) {
	clock := time.Date(2026, 3, 10, 2, 58, 0, 0, time.UTC)
	s := New(zap.NewNop(), WithClock(func() time.Time { return clock }))

	var runs int32
	if err := s.Add("night", "0 3 * * *", func(context.Context) {
		atomic.AddInt32(&runs, 1)
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.tick()
	clock = time.Date(2026, 3, 10, 3, 2, 0, 0, time.UTC)
	s.tick()
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&runs); got != 0 {
		t.Fatalf("runs = %d, want 0 outside the firing window", got)
	}
}

func TestRunNow(t *testing.T) {
	s := New(zap.NewNop())
	var runs int32
	if err := s.Add("night", "0 3 * * *", func(context.Context) {
		atomic.AddInt32(&runs, 1)
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if !s.RunNow("night") {
		t.Fatal("known job should be triggerable")
	}
	if s.RunNow("nonexistent") {
		t.Fatal("unknown job must report false")
	}
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestRunNow_SuppressesSameDaySchedule(t *testing.T) {
	clock := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	s := New(zap.NewNop(), WithClock(func() time.Time { return clock }))

	var runs int32
	if err := s.Add("night", "0 3 * * *", func(context.Context) {
		atomic.AddInt32(&runs, 1)
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if !s.RunNow("night") {
		t.Fatal("known job should be triggerable")
	}

	// The scheduled window later the same day must not fire again.
	clock = time.Date(2026, 3, 10, 3, 0, 10, 0, time.UTC)
	s.tick()
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("runs = %d, want 1 after a manual run the same day", got)
	}

	// The next day's window fires normally.
	clock = time.Date(2026, 3, 11, 3, 0, 10, 0, time.UTC)
	s.tick()
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Fatalf("runs = %d, want 2 after the next day's window", got)
	}
}

func TestStop_DoesNotWaitForInFlightRun(t *testing.T) {
	clock := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	s := New(zap.NewNop(), WithPoll(5*time.Millisecond), WithClock(func() time.Time { return clock }))

	started := make(chan struct{})
	canceled := make(chan struct{})
	if err := s.Add("night", "0 3 * * *", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop blocked on an in-flight run")
	}
	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight run never observed cancellation")
	}
}
