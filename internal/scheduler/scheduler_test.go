package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestRunOnStartAndRepeat(t *testing.T) {
	s, err := New(Options{Interval: 20 * time.Millisecond, RunOnStart: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("tick errors are logged, not fatal")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not tick three times")
	}
}

func TestRunWithoutRunOnStartWaits(t *testing.T) {
	s, err := New(Options{Interval: time.Hour}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var calls atomic.Int32
	err = s.Run(ctx, func(context.Context, time.Time) error {
		calls.Add(1)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run returned %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("tick ran %d times before the first interval", calls.Load())
	}
}

func TestNextTickAligned(t *testing.T) {
	s, _ := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)

	if got, want := s.nextTick(now), time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next tick = %s, want %s", got, want)
	}
	if got := s.bucketStart(now); !got.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("bucket start = %s", got)
	}
}
