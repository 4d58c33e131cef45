package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/viper"

	"github.com/mschirtzinger/rerun/internal/config"
	"github.com/mschirtzinger/rerun/internal/logging"
	"github.com/mschirtzinger/rerun/internal/loop"
	"github.com/mschirtzinger/rerun/internal/runner"
	"github.com/mschirtzinger/rerun/internal/ui"
	"github.com/mschirtzinger/rerun/internal/watch"
)

// app wires configuration, the watch set and the loop for one run.
type app struct {
	v      *viper.Viper
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// loadConfig reads the optional config file named by --config and
// resolves the effective configuration.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	if err := config.ReadFile(v, v.GetString("config")); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func (a *app) run(ctx context.Context, args []string) error {
	spec, err := runner.ParseCommandLine(args)
	if err != nil {
		return &config.ConfigError{Key: "command", Msg: "no command to run"}
	}

	cfg, err := loadConfig(a.v)
	if err != nil {
		return err
	}

	logger, closer, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Writer: a.stderr,
	})
	if err != nil {
		return &config.ConfigError{Key: config.KeyLogLevel, Msg: err.Error()}
	}
	defer closer.Close()

	var paths []string
	if cfg.PathsFile != "" {
		paths, err = config.ReadPathsFile(cfg.PathsFile)
	} else {
		paths, err = config.ReadPaths(a.stdin)
	}
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return &config.ConfigError{Key: "paths", Msg: "no files to watch; pipe a newline-separated list on stdin"}
	}

	set := watch.New(
		watch.WithMissingPolicy(cfg.MissingPolicy()),
		watch.WithLogger(logger),
	)
	for _, p := range paths {
		if err := set.Register(p); err != nil {
			return err
		}
	}
	logger.Debug("Registered watched files", "count", set.Len())

	if !cfg.Quiet {
		ui.New(a.stderr).PrintBanner(ui.Banner{
			Command:   spec.String(),
			Paths:     set.Paths(),
			Interval:  cfg.Interval().String(),
			OnMissing: cfg.OnMissing,
			Async:     cfg.Async,
		})
	}

	l, err := loop.New(set, spec, &runner.ExecRunner{Stderr: a.stderr, WaitDelay: 2 * time.Second}, &loop.Config{
		Interval: cfg.Interval(),
		Async:    cfg.Async,
		Stdout:   a.stdout,
		Logger:   logger,
	})
	if err != nil {
		if errors.Is(err, loop.ErrInvalidInterval) {
			return &config.ConfigError{Key: config.KeyInterval, Msg: err.Error()}
		}
		return err
	}

	err = l.Run(ctx)
	stats := l.Stats()
	if errors.Is(err, context.Canceled) {
		logger.Info("Stopped", "runs", stats.Finished, "failed", stats.Failed)
		return nil
	}
	if errors.Is(err, watch.ErrNoPaths) {
		return fmt.Errorf("every watched file is gone: %w", err)
	}
	return err
}
