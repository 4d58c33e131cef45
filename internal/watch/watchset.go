// Package watch tracks the last observed modification time of a fixed set
// of files and reports when any of them drifts from that state.
//
// A WatchSet is an explicitly owned value: create one per watcher, register
// every path up front, then call Check once per poll tick.
//
//	set := watch.New()
//	for _, p := range paths {
//	    if err := set.Register(p); err != nil {
//	        return err // *watch.FileAccessError
//	    }
//	}
//
//	changed, err := set.Check()
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// MissingPolicy decides what Check does with a path that can no longer
// be stat'ed.
type MissingPolicy int

const (
	// MissingFatal reports a RuntimeAccessError; the caller aborts.
	MissingFatal MissingPolicy = iota
	// MissingDrop removes the entry and reports it as a change.
	MissingDrop
)

// String returns the configuration name of the policy.
func (p MissingPolicy) String() string {
	switch p {
	case MissingFatal:
		return "fatal"
	case MissingDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// ParseMissingPolicy converts "fatal" or "drop" to a MissingPolicy.
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fatal":
		return MissingFatal, nil
	case "drop":
		return MissingDrop, nil
	default:
		return MissingFatal, fmt.Errorf("unknown missing-file policy %q (want fatal or drop)", s)
	}
}

// StatFunc reads file metadata. os.Stat is used unless overridden.
type StatFunc func(path string) (os.FileInfo, error)

// Entry is the last observed state of one watched path.
type Entry struct {
	Path    string
	ModTime time.Time
}

// WatchSet maps watched paths to their last observed modification time.
// It is not safe for concurrent use; a single polling loop owns it.
type WatchSet struct {
	entries map[string]*Entry
	stat    StatFunc
	policy  MissingPolicy
	logger  *slog.Logger
}

// Option configures a WatchSet.
type Option func(*WatchSet)

// WithStat overrides the function used to read modification times.
func WithStat(fn StatFunc) Option {
	return func(s *WatchSet) {
		if fn != nil {
			s.stat = fn
		}
	}
}

// WithMissingPolicy sets how Check handles paths that disappear.
func WithMissingPolicy(p MissingPolicy) Option {
	return func(s *WatchSet) { s.policy = p }
}

// WithLogger sets the logger used to report dropped entries.
func WithLogger(l *slog.Logger) Option {
	return func(s *WatchSet) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty WatchSet.
func New(opts ...Option) *WatchSet {
	s := &WatchSet{
		entries: make(map[string]*Entry),
		stat:    os.Stat,
		policy:  MissingFatal,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the configured missing-file policy.
func (s *WatchSet) Policy() MissingPolicy {
	return s.policy
}

// Register reads the current modification time of path and stores it.
// Registering a path twice refreshes its stored time.
func (s *WatchSet) Register(path string) error {
	mtime, err := s.modTime(path)
	if err != nil {
		return &FileAccessError{Path: path, Err: err}
	}

	if e, ok := s.entries[path]; ok {
		e.ModTime = mtime
		return nil
	}
	s.entries[path] = &Entry{Path: path, ModTime: mtime}
	return nil
}

// Check re-reads every registered path and reports whether any
// modification time differs from the stored one. Any difference counts,
// including a file restored to an older timestamp.
//
// Every entry is visited exactly once per call, so all stored times are
// current when Check returns and unchanged entries cannot re-trigger on
// the next call.
func (s *WatchSet) Check() (bool, error) {
	changed := false
	var errs []error

	for path, e := range s.entries {
		mtime, err := s.modTime(path)
		if err != nil {
			if s.policy == MissingDrop {
				delete(s.entries, path)
				s.logger.Warn("dropping watched path", "path", path, "err", err)
				changed = true
				continue
			}
			errs = append(errs, &RuntimeAccessError{Path: path, Err: err})
			continue
		}

		if !mtime.Equal(e.ModTime) {
			e.ModTime = mtime
			changed = true
		}
	}

	if len(errs) > 0 {
		return changed, errors.Join(errs...)
	}
	if len(s.entries) == 0 {
		return changed, ErrNoPaths
	}
	return changed, nil
}

// Len returns the number of watched paths.
func (s *WatchSet) Len() int {
	return len(s.entries)
}

// Paths returns the watched paths in lexical order.
func (s *WatchSet) Paths() []string {
	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ModTime returns the stored modification time for path.
func (s *WatchSet) ModTime(path string) (time.Time, bool) {
	e, ok := s.entries[path]
	if !ok {
		return time.Time{}, false
	}
	return e.ModTime, true
}

func (s *WatchSet) modTime(path string) (time.Time, error) {
	info, err := s.stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
