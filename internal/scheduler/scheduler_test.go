package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunTicksUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := 0
	err := s.Run(ctx, func(ctx context.Context, at time.Time) error {
		ticks++
		if ticks == 3 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run 应返回 context.Canceled, 实际 %v", err)
	}
	if ticks != 3 {
		t.Fatalf("ticks = %d", ticks)
	}
}

func TestRunUsesErrorBackoff(t *testing.T) {
	s := New(Options{Interval: time.Hour, ErrorBackoff: 5 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var stamps []time.Time
	err := s.Run(ctx, func(ctx context.Context, at time.Time) error {
		stamps = append(stamps, at)
		if len(stamps) == 2 {
			cancel()
			return nil
		}
		return errors.New("schedule unavailable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error %v", err)
	}
	if len(stamps) != 2 {
		t.Fatalf("failed tick should be retried after backoff, got %d ticks", len(stamps))
	}
}

func TestRunStopsDuringStartupDelay(t *testing.T) {
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Run(ctx, func(ctx context.Context, at time.Time) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("cancelled run should not tick: err=%v called=%v", err, called)
	}
}

func TestStartCronRejectsBadSpec(t *testing.T) {
	s := New(Options{Interval: time.Second}, zerolog.Nop())
	if _, err := s.StartCron(context.Background(), "every tuesday", func(context.Context) {}); err == nil {
		t.Fatal("invalid spec should fail")
	}
}

func TestStartCronRunsJob(t *testing.T) {
	s := New(Options{Interval: time.Second}, zerolog.Nop())

	var once sync.Once
	done := make(chan struct{})
	stop, err := s.StartCron(context.Background(), "@every 1s", func(context.Context) {
		once.Do(func() { close(done) })
	})
	if err != nil {
		t.Fatalf("start cron: %v", err)
	}
	defer stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("cron job did not run")
	}
}
