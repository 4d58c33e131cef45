// Package logging builds the slog logger used for rerun's diagnostics.
// Diagnostics go to stderr or a rotated file, never to stdout, which
// carries the relayed command output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	// Level is debug, info, warn or error.
	Level string

	// Format is text, logfmt or json.
	Format string

	// File, when set, sends logs to a size-rotated file instead of Writer.
	File string

	// Writer receives logs when File is empty. Defaults to os.Stderr.
	Writer io.Writer
}

// Rotation limits for File.
const (
	maxSizeMB  = 10
	maxBackups = 3
	maxAgeDays = 14
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup returns a logger configured from opts and a Closer releasing the
// log file, if any.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	var formatter log.Formatter
	switch opts.Format {
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		formatter = log.TextFormatter
	}

	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, err
		}
		level = parsed
	}

	var w io.Writer = opts.Writer
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
		}
		w, closer = rotated, rotated
	}
	if w == nil {
		w = os.Stderr
	}

	handler := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "rerun",
		Formatter:       formatter,
		Level:           level,
	})

	return slog.New(handler), closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
