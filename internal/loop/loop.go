// Package loop drives the polling cadence of a watch set and runs the
// configured command whenever a change is detected.
//
// The loop has two states. It is Idle while waiting for the next poll tick
// and Triggering while a command is in flight. At most one command runs at
// a time. In the default blocking mode no change detection happens while
// the command runs; a change that is reverted before the command exits is
// therefore not seen.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/mschirtzinger/rerun/internal/runner"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// ErrInvalidInterval is returned by New for a zero or negative interval.
var ErrInvalidInterval = errors.New("poll interval must be positive")

// Checker is the change-detection side of a watch set.
type Checker interface {
	Check() (bool, error)
}

// State is the loop's position in its two-state machine.
type State int32

const (
	// Idle means the loop is waiting for the next poll tick.
	Idle State = iota
	// Triggering means a command invocation is in flight.
	Triggering
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Triggering:
		return "triggering"
	default:
		return "unknown"
	}
}

// Config holds configuration for the loop.
type Config struct {
	// Interval is the wait between successive checks.
	Interval time.Duration

	// Async keeps polling while a command runs. A change seen during a
	// run schedules exactly one follow-up run; runs never overlap.
	Async bool

	// Stdout receives the captured output of every run.
	Stdout io.Writer

	// Logger for loop activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: DefaultInterval,
		Stdout:   os.Stdout,
		Logger:   slog.Default(),
	}
}

// Stats are counters describing the loop's activity so far.
type Stats struct {
	Polls    int64
	Triggers int64
	Finished int64
	Failed   int64
}

// Loop polls a Checker and triggers a CommandRunner on change.
type Loop struct {
	set    Checker
	spec   runner.CommandSpec
	runner runner.CommandRunner
	config *Config

	state    atomic.Int32
	polls    atomic.Int64
	triggers atomic.Int64
	finished atomic.Int64
	failed   atomic.Int64
}

// New creates a Loop. A nil config uses DefaultConfig; unset fields of a
// non-nil config fall back to the defaults, except Interval which must be
// positive.
func New(set Checker, spec runner.CommandSpec, r runner.CommandRunner, config *Config) (*Loop, error) {
	if set == nil {
		return nil, fmt.Errorf("watch set cannot be nil")
	}
	if r == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if spec.IsZero() {
		return nil, runner.ErrNoCommand
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidInterval, config.Interval)
	}

	cfg := *config
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Loop{
		set:    set,
		spec:   spec,
		runner: r,
		config: &cfg,
	}, nil
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Polls:    l.polls.Load(),
		Triggers: l.triggers.Load(),
		Finished: l.finished.Load(),
		Failed:   l.failed.Load(),
	}
}

// Run polls until ctx is cancelled or a fatal error occurs.
//
// It returns ctx.Err() on cancellation, the Checker's error when a watched
// path becomes inaccessible, and a *runner.SpawnError when the command
// cannot be started. A command exiting non-zero is logged and polling
// continues.
func (l *Loop) Run(ctx context.Context) error {
	l.config.Logger.Debug("Starting loop",
		"interval", l.config.Interval,
		"command", l.spec.String(),
		"async", l.config.Async)

	if l.config.Async {
		return l.runAsync(ctx)
	}
	return l.runBlocking(ctx)
}

func (l *Loop) runBlocking(ctx context.Context) error {
	timer := time.NewTimer(l.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		changed, err := l.poll()
		if err != nil {
			return err
		}

		if changed {
			l.begin()
			res, err := l.runner.Run(ctx, l.spec)
			err = l.finish(ctx, res, err)
			if err != nil {
				return err
			}
		}

		timer.Reset(l.config.Interval)
	}
}

type outcome struct {
	res runner.Result
	err error
}

func (l *Loop) runAsync(ctx context.Context) error {
	timer := time.NewTimer(l.config.Interval)
	defer timer.Stop()

	// Single slot: the channel is only ever written by the one in-flight
	// run, and its buffer lets that goroutine exit even if we returned.
	done := make(chan outcome, 1)
	running := false
	pending := false

	start := func() {
		running = true
		l.begin()
		go func() {
			res, err := l.runner.Run(ctx, l.spec)
			done <- outcome{res: res, err: err}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out := <-done:
			running = false
			if err := l.finish(ctx, out.res, out.err); err != nil {
				return err
			}
			if pending {
				pending = false
				start()
			}

		case <-timer.C:
			changed, err := l.poll()
			if err != nil {
				return err
			}
			if changed {
				if running {
					l.config.Logger.Debug("Change detected during run, queued")
					pending = true
				} else {
					start()
				}
			}
			timer.Reset(l.config.Interval)
		}
	}
}

func (l *Loop) poll() (bool, error) {
	l.polls.Add(1)
	changed, err := l.set.Check()
	if err != nil {
		return changed, fmt.Errorf("checking watched files: %w", err)
	}
	return changed, nil
}

func (l *Loop) begin() {
	l.triggers.Add(1)
	l.state.Store(int32(Triggering))
	l.config.Logger.Info("Change detected, running command", "command", l.spec.String())
}

// finish relays a run's output and returns the loop to Idle.
func (l *Loop) finish(ctx context.Context, res runner.Result, runErr error) error {
	defer l.state.Store(int32(Idle))

	if runErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return runErr
	}

	if len(res.Stdout) > 0 {
		if _, err := l.config.Stdout.Write(res.Stdout); err != nil {
			return fmt.Errorf("relaying command output: %w", err)
		}
	}

	l.finished.Add(1)
	if !res.Success() {
		l.failed.Add(1)
		l.config.Logger.Warn("Command failed",
			"command", l.spec.String(),
			"exit_code", res.ExitCode,
			"duration", res.Duration.Round(time.Millisecond))
		return nil
	}

	l.config.Logger.Info("Command finished",
		"command", l.spec.String(),
		"duration", res.Duration.Round(time.Millisecond))
	return nil
}
