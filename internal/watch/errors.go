package watch

import (
	"errors"
	"fmt"
)

// ErrNoPaths is returned by Check when every entry has been dropped
// from the set and nothing is left to watch.
//
//	if errors.Is(err, watch.ErrNoPaths) {
//	    // all watched files are gone
//	}
var ErrNoPaths = errors.New("no paths left to watch")

// FileAccessError is returned by Register when a path cannot be stat'ed.
// It is fatal at startup: polling never begins with an unverifiable set.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("cannot watch %s: %v", e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

// RuntimeAccessError is returned by Check when a path that was valid at
// registration can no longer be stat'ed (deleted, permissions changed).
type RuntimeAccessError struct {
	Path string
	Err  error
}

func (e *RuntimeAccessError) Error() string {
	return fmt.Sprintf("lost access to %s: %v", e.Path, e.Err)
}

func (e *RuntimeAccessError) Unwrap() error { return e.Err }

// IsAccessError returns true if err is a FileAccessError or a
// RuntimeAccessError, possibly wrapped or joined.
func IsAccessError(err error) bool {
	if err == nil {
		return false
	}

	var fileErr *FileAccessError
	if errors.As(err, &fileErr) {
		return true
	}

	var runtimeErr *RuntimeAccessError
	return errors.As(err, &runtimeErr)
}
