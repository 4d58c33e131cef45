package loop

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/rerun/internal/runner"
	"github.com/mschirtzinger/rerun/internal/watch"
)

var echoSpec = runner.CommandSpec{Name: "echo", Args: []string{"hello"}}

// scriptedChecker returns queued results, then false (or err) forever.
type scriptedChecker struct {
	mu      sync.Mutex
	results []bool
	err     error
	calls   int
}

func (c *scriptedChecker) Check() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.results) > 0 {
		r := c.results[0]
		c.results = c.results[1:]
		return r, nil
	}
	return false, c.err
}

func (c *scriptedChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fakeRunner records invocations and optionally blocks the first run
// until release is closed.
type fakeRunner struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int

	output   []byte
	exitCode int
	err      error

	started chan struct{}
	release chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, spec runner.CommandSpec) (runner.Result, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if first && r.started != nil {
		close(r.started)
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return runner.Result{}, ctx.Err()
		}
	}

	if r.err != nil {
		return runner.Result{}, r.err
	}
	return runner.Result{Stdout: r.output, ExitCode: r.exitCode}, nil
}

func (r *fakeRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRunner) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

func testConfig(stdout io.Writer) *Config {
	return &Config{
		Interval: time.Millisecond,
		Stdout:   stdout,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// startLoop runs l in the background; the returned function cancels it
// and returns Run's error.
func startLoop(t *testing.T, l *Loop) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Loop did not stop after cancellation")
			return nil
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timeout waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	set := &scriptedChecker{}
	r := &fakeRunner{}

	tests := []struct {
		name    string
		set     Checker
		spec    runner.CommandSpec
		runner  runner.CommandRunner
		config  *Config
		wantErr error
	}{
		{"zero interval", set, echoSpec, r, &Config{Interval: 0}, ErrInvalidInterval},
		{"negative interval", set, echoSpec, r, &Config{Interval: -time.Second}, ErrInvalidInterval},
		{"empty command", set, runner.CommandSpec{}, r, nil, runner.ErrNoCommand},
		{"nil set", nil, echoSpec, r, nil, nil},
		{"nil runner", set, echoSpec, nil, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.set, tt.spec, tt.runner, tt.config)
			if err == nil {
				t.Fatal("New() should fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	l, err := New(&scriptedChecker{}, echoSpec, &fakeRunner{}, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if l.config.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", l.config.Interval, DefaultInterval)
	}
	if l.State() != Idle {
		t.Errorf("New loop should be idle, got %v", l.State())
	}
}

func TestRun_OneTriggerPerChange(t *testing.T) {
	var out bytes.Buffer
	set := &scriptedChecker{results: []bool{false, true, false, false}}
	r := &fakeRunner{output: []byte("built\n")}

	l, err := New(set, echoSpec, r, testConfig(&out))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	stop := startLoop(t, l)
	waitFor(t, "extra polls", func() bool { return set.Calls() >= 6 })
	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}

	if r.Calls() != 1 {
		t.Errorf("Expected exactly 1 run, got %d", r.Calls())
	}
	if out.String() != "built\n" {
		t.Errorf("Stdout = %q, want %q", out.String(), "built\n")
	}

	stats := l.Stats()
	if stats.Triggers != 1 || stats.Finished != 1 || stats.Failed != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if l.State() != Idle {
		t.Errorf("Loop should end idle, got %v", l.State())
	}
}

func TestRun_CheckErrorIsFatal(t *testing.T) {
	accessErr := &watch.RuntimeAccessError{Path: "gone.txt", Err: os.ErrNotExist}
	set := &scriptedChecker{results: []bool{false}, err: accessErr}
	r := &fakeRunner{}

	l, err := New(set, echoSpec, r, testConfig(io.Discard))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = l.Run(context.Background())
	var got *watch.RuntimeAccessError
	if !errors.As(err, &got) {
		t.Fatalf("Expected *watch.RuntimeAccessError, got %T: %v", err, err)
	}
	if got.Path != "gone.txt" {
		t.Errorf("Path = %q, want gone.txt", got.Path)
	}
	if r.Calls() != 0 {
		t.Errorf("No command should run, got %d runs", r.Calls())
	}
}

func TestRun_SpawnErrorIsFatal(t *testing.T) {
	spawnErr := &runner.SpawnError{Command: "nope", Err: exec.ErrNotFound}
	set := &scriptedChecker{results: []bool{true}}
	r := &fakeRunner{err: spawnErr}

	l, err := New(set, echoSpec, r, testConfig(io.Discard))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = l.Run(context.Background())
	var got *runner.SpawnError
	if !errors.As(err, &got) {
		t.Fatalf("Expected *runner.SpawnError, got %T: %v", err, err)
	}
	if l.State() != Idle {
		t.Errorf("Loop should return to idle, got %v", l.State())
	}
}

func TestRun_FailedCommandKeepsPolling(t *testing.T) {
	var out bytes.Buffer
	set := &scriptedChecker{results: []bool{true, false, true}}
	r := &fakeRunner{output: []byte("oops\n"), exitCode: 1}

	l, err := New(set, echoSpec, r, testConfig(&out))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	stop := startLoop(t, l)
	waitFor(t, "second run", func() bool { return l.Stats().Finished == 2 })
	stop()

	if got := l.Stats().Failed; got != 2 {
		t.Errorf("Failed = %d, want 2", got)
	}
	if out.String() != "oops\noops\n" {
		t.Errorf("Output of failed runs should still be relayed, got %q", out.String())
	}
}

func TestRun_CancelInterruptsSleep(t *testing.T) {
	cfg := testConfig(io.Discard)
	cfg.Interval = time.Hour

	l, err := New(&scriptedChecker{}, echoSpec, &fakeRunner{}, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := l.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run() took %v to notice cancellation", elapsed)
	}
}

func TestRun_BlockingModeStopsPolling(t *testing.T) {
	set := &scriptedChecker{results: []bool{true}}
	r := &fakeRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	l, err := New(set, echoSpec, r, testConfig(io.Discard))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	stop := startLoop(t, l)
	<-r.started

	if l.State() != Triggering {
		t.Errorf("State during run = %v, want triggering", l.State())
	}

	before := set.Calls()
	time.Sleep(30 * time.Millisecond)
	if after := set.Calls(); after != before {
		t.Errorf("Blocking mode polled during run: %d -> %d checks", before, after)
	}

	close(r.release)
	waitFor(t, "polling to resume", func() bool { return set.Calls() > before })
	stop()
}

func TestRun_AsyncCoalescesChanges(t *testing.T) {
	set := &scriptedChecker{results: []bool{true, true, true, true}}
	r := &fakeRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	cfg := testConfig(io.Discard)
	cfg.Async = true
	l, err := New(set, echoSpec, r, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	stop := startLoop(t, l)
	<-r.started

	// Polling continues while the first run is in flight.
	waitFor(t, "polls during run", func() bool { return set.Calls() >= 5 })
	if r.Calls() != 1 {
		t.Fatalf("Runs must not overlap, got %d calls while first is blocked", r.Calls())
	}

	close(r.release)
	waitFor(t, "follow-up run", func() bool { return l.Stats().Finished == 2 })

	time.Sleep(20 * time.Millisecond)
	stop()

	if r.Calls() != 2 {
		t.Errorf("Queued changes should coalesce into one run, got %d runs", r.Calls())
	}
	if r.MaxInFlight() != 1 {
		t.Errorf("Max concurrent runs = %d, want 1", r.MaxInFlight())
	}
}

func TestRun_EchoHelloOnChange(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires echo on PATH")
	}
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatalf("Failed to write a.txt: %v", err)
	}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, t0, t0); err != nil {
		t.Fatalf("Failed to set mtime: %v", err)
	}

	set := watch.New()
	if err := set.Register(path); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	var out bytes.Buffer
	l, err := New(set, echoSpec, &runner.ExecRunner{Stderr: io.Discard}, testConfig(&out))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	stop := startLoop(t, l)
	waitFor(t, "initial polls", func() bool { return l.Stats().Polls >= 2 })

	t1 := t0.Add(time.Second)
	if err := os.Chtimes(path, t1, t1); err != nil {
		t.Fatalf("Failed to touch a.txt: %v", err)
	}

	waitFor(t, "command to finish", func() bool { return l.Stats().Finished == 1 })
	polls := l.Stats().Polls
	waitFor(t, "more polls", func() bool { return l.Stats().Polls >= polls+5 })
	stop()

	if out.String() != "hello\n" {
		t.Errorf("Stdout = %q, want exactly one %q", out.String(), "hello\n")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "idle"},
		{Triggering, "triggering"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
