package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/rerun/internal/config"
	"github.com/mschirtzinger/rerun/internal/watch"
)

// v holds flag, env and file configuration for every command.
var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:   "rerun [flags] <command> [args...]",
	Short: "Run a command whenever one of the given files changes",
	Long: `Watch a list of files and run a command each time any of them changes.

The files to watch are read from standard input, one path per line. Every
interval rerun compares each file's modification time with the last one it
saw; on any difference it runs the command once and copies the command's
standard output to its own.

The command is either a single quoted string, split on whitespace, or the
remaining arguments after "--":

  ls *.go | rerun "go build ./..."
  find . -name '*.c' | rerun -i 250 -- make -j4 all
  git ls-files | rerun --on-missing drop -- go test ./...

Settings can also come from RERUN_* environment variables (RERUN_INTERVAL,
RERUN_ON_MISSING, RERUN_LOG_LEVEL, ...) or a .rerun.toml / .rerun.yaml file
in the working directory. Run 'rerun config' to see the effective values.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := &app{
			v:      v,
			stdin:  os.Stdin,
			stdout: os.Stdout,
			stderr: os.Stderr,
		}
		if err := a.run(ctx, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if config.IsConfigError(err) {
				fmt.Fprintf(os.Stderr, "Run 'rerun --help' for usage.\n")
			}
			os.Exit(exitCode(err))
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntP("interval", "i", config.DefaultIntervalMillis, "Poll interval in milliseconds")
	flags.String("on-missing", watch.MissingFatal.String(), "What to do when a watched file disappears: fatal or drop")
	flags.Bool("async", false, "Keep polling while the command runs (runs never overlap)")
	flags.StringP("paths-file", "f", "", "Read the path list from this file instead of stdin")
	flags.BoolP("quiet", "q", false, "Do not print the startup banner")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "text", "Log format: text, logfmt or json")
	flags.String("log-file", "", "Write logs to this file (rotated) instead of stderr")
	flags.String("config", "", "Config file (default: ./.rerun.{toml,yaml})")

	bindFlag(config.KeyInterval, "interval")
	bindFlag(config.KeyOnMissing, "on-missing")
	bindFlag(config.KeyAsync, "async")
	bindFlag(config.KeyPathsFile, "paths-file")
	bindFlag(config.KeyQuiet, "quiet")
	bindFlag(config.KeyLogLevel, "log-level")
	bindFlag(config.KeyLogFormat, "log-format")
	bindFlag(config.KeyLogFile, "log-file")
	bindFlag("config", "config")

	// Everything after the command name belongs to the command.
	rootCmd.Flags().SetInterspersed(false)
}

func bindFlag(key, name string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", name, err))
	}
}

// exitCode maps a fatal error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	default:
		return 1
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
