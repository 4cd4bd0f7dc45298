package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())

	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	next := s.nextTick(now)
	if !next.Equal(now.Add(time.Minute)) {
		t.Fatalf("unaligned next tick should be now+interval, got %s", next)
	}
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	next := s.nextTick(now)
	want := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("aligned next tick should be %s, got %s", want, next)
	}

	// Exactly on a boundary still schedules the next interval.
	next = s.nextTick(want)
	if !next.Equal(want.Add(time.Minute)) {
		t.Fatalf("boundary next tick should be %s, got %s", want.Add(time.Minute), next)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) >= 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run should return the context error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if ticks.Load() < 2 {
		t.Fatalf("expected at least 2 ticks, got %d", ticks.Load())
	}
}

func TestRunTickErrorsAreNotFatal(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return errors.New("pass failed")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if ticks.Load() < 3 {
		t.Fatalf("failing ticks must not stop the loop, got %d", ticks.Load())
	}
}
