// Package config resolves rerun's settings from flags, RERUN_* environment
// variables and an optional .rerun.toml / .rerun.yaml file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mschirtzinger/rerun/internal/watch"
)

// Configuration keys, shared by flags, env and the config file.
const (
	KeyInterval  = "interval"
	KeyOnMissing = "on-missing"
	KeyAsync     = "async"
	KeyPathsFile = "paths-file"
	KeyQuiet     = "quiet"
	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
	KeyLogFile   = "log.file"
)

// DefaultIntervalMillis is the poll interval when none is configured.
const DefaultIntervalMillis = 100

// ConfigError reports malformed user input. It is always fatal and is
// raised before any polling begins.
type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return e.Msg
	}
	return fmt.Sprintf("invalid %s: %s", e.Key, e.Msg)
}

// IsConfigError returns true if err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level" json:"level" mapstructure:"level"`
	Format string `toml:"format" yaml:"format" json:"format" mapstructure:"format"`
	File   string `toml:"file,omitempty" yaml:"file,omitempty" json:"file,omitempty" mapstructure:"file"`
}

// Config is the effective configuration of a run.
type Config struct {
	// IntervalMillis is the poll interval in milliseconds.
	IntervalMillis int `toml:"interval" yaml:"interval" json:"interval" mapstructure:"interval"`

	// OnMissing is "fatal" or "drop".
	OnMissing string `toml:"on-missing" yaml:"on-missing" json:"on-missing" mapstructure:"on-missing"`

	Async     bool   `toml:"async" yaml:"async" json:"async" mapstructure:"async"`
	PathsFile string `toml:"paths-file,omitempty" yaml:"paths-file,omitempty" json:"paths-file,omitempty" mapstructure:"paths-file"`
	Quiet     bool   `toml:"quiet" yaml:"quiet" json:"quiet" mapstructure:"quiet"`

	Log LogConfig `toml:"log" yaml:"log" json:"log" mapstructure:"log"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyInterval, DefaultIntervalMillis)
	v.SetDefault(KeyOnMissing, watch.MissingFatal.String())
	v.SetDefault(KeyAsync, false)
	v.SetDefault(KeyPathsFile, "")
	v.SetDefault(KeyQuiet, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyLogFile, "")
}

// NewViper returns a viper instance with defaults set and RERUN_* env
// binding enabled. log.level is read from RERUN_LOG_LEVEL.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("rerun")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// ReadFile loads an explicit config file, or searches the working
// directory for .rerun.{toml,yaml,yml} when path is empty. A missing
// file is only an error when path was given explicitly.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".rerun")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return &ConfigError{Key: "config", Msg: err.Error()}
	}
	return nil
}

// Load resolves the configuration held by v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	interval, err := intervalMillis(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		IntervalMillis: interval,
		OnMissing:      strings.ToLower(strings.TrimSpace(v.GetString(KeyOnMissing))),
		Async:          v.GetBool(KeyAsync),
		PathsFile:      v.GetString(KeyPathsFile),
		Quiet:          v.GetBool(KeyQuiet),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString(KeyLogLevel)),
			Format: strings.ToLower(v.GetString(KeyLogFormat)),
			File:   v.GetString(KeyLogFile),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// intervalMillis reads the interval strictly so that "abc" or "1.5" from
// env or file is reported rather than silently read as 0.
func intervalMillis(v *viper.Viper) (int, error) {
	raw := v.Get(KeyInterval)
	switch n := raw.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, &ConfigError{Key: KeyInterval, Msg: fmt.Sprintf("%v is not a whole number of milliseconds", n)}
		}
		return int(n), nil
	case string:
		ms, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, &ConfigError{Key: KeyInterval, Msg: fmt.Sprintf("%q is not an integer", n)}
		}
		return ms, nil
	default:
		return v.GetInt(KeyInterval), nil
	}
}

// Validate checks every field and returns the first problem as a
// *ConfigError.
func (c *Config) Validate() error {
	if c.IntervalMillis <= 0 {
		return &ConfigError{Key: KeyInterval, Msg: fmt.Sprintf("must be a positive number of milliseconds, got %d", c.IntervalMillis)}
	}
	if _, err := watch.ParseMissingPolicy(c.OnMissing); err != nil {
		return &ConfigError{Key: KeyOnMissing, Msg: err.Error()}
	}
	switch c.Log.Format {
	case "text", "logfmt", "json":
	default:
		return &ConfigError{Key: KeyLogFormat, Msg: fmt.Sprintf("unknown format %q (want text, logfmt or json)", c.Log.Format)}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Key: KeyLogLevel, Msg: fmt.Sprintf("unknown level %q (want debug, info, warn or error)", c.Log.Level)}
	}
	return nil
}

// Interval returns the poll interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMillis) * time.Millisecond
}

// MissingPolicy returns the parsed on-missing policy.
func (c *Config) MissingPolicy() watch.MissingPolicy {
	p, _ := watch.ParseMissingPolicy(c.OnMissing)
	return p
}
