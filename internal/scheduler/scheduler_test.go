package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("no panic for zero interval")
		}
	}()
	New(Options{}, zerolog.Nop())
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 30 * time.Second, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 5, 2, 9, 0, 12, 0, time.UTC)
	next := s.nextTick(now)
	want := time.Date(2026, 5, 2, 9, 0, 30, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next tick = %v, want %v", next, want)
	}

	// Exactly on a boundary still advances to the next one.
	next = s.nextTick(want)
	if !next.Equal(want.Add(30 * time.Second)) {
		t.Fatalf("boundary tick = %v", next)
	}

	if got := s.cycleStart(want); !got.Equal(want) {
		t.Fatalf("cycle start = %v, want %v", got, want)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())

	now := time.Date(2026, 5, 2, 9, 0, 12, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("next tick = %v", got)
	}
	if got := s.cycleStart(now); !got.Equal(now) {
		t.Fatalf("cycle start = %v", got)
	}
}

func TestRunInvokesTickUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	var ticks atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			ticks.Add(1)
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v, want context canceled", err)
	}
	if ticks.Load() < 2 {
		t.Fatalf("ticks = %d, want at least 2", ticks.Load())
	}
}

func TestRunContinuesAfterTickError(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	var ticks atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) == 1 {
				return errors.New("transient cycle failure")
			}
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if ticks.Load() < 2 {
		t.Fatal("scheduler stopped after a failing cycle")
	}
}

func TestRunHonorsStartupDelayCancellation(t *testing.T) {
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not exit during startup delay")
	}
}
