package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked once per loop iteration.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Interval is the pause after a successful iteration.
	Interval time.Duration
	// ErrorBackoff replaces Interval after a failed iteration.
	ErrorBackoff time.Duration
	StartupDelay time.Duration
	// Location is used for cron expressions.
	Location *time.Location
}

// Scheduler drives the processing loop and cron jobs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = opts.Interval
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run invokes tick immediately and then after every pause until ctx is
// cancelled. A failed tick is logged and followed by ErrorBackoff instead of
// Interval.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		at := time.Now().In(s.opts.Location)
		pause := s.opts.Interval
		if err := tick(ctx, at); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Dur("backoff", s.opts.ErrorBackoff).Msg("iteration failed")
			pause = s.opts.ErrorBackoff
		}

		s.logger.Debug().Time("next_run", time.Now().Add(pause)).Msg("waiting for next iteration")
		if err := sleep(ctx, pause); err != nil {
			return err
		}
	}
}

// StartCron runs job on the cron spec until the returned stop func is called.
// Overlapping runs are skipped. The job receives ctx.
func (s *Scheduler) StartCron(ctx context.Context, spec string, job func(ctx context.Context)) (func(), error) {
	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() { job(ctx) }); err != nil {
		return nil, fmt.Errorf("register cron %q: %w", spec, err)
	}
	c.Start()
	s.logger.Info().Str("spec", spec).Str("timezone", s.opts.Location.String()).Msg("cron job started")

	return func() {
		<-c.Stop().Done()
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
