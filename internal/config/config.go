// Package config loads fxstore runtime settings from TOML or CUE files,
// with environment overrides for logging and the journal path.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/fxstore/internal/engine"
)

// Environment variables that override file settings.
const (
	// EnvLogLevel sets the log level: debug, info, warn or error.
	EnvLogLevel = "FXSTORE_LOG_LEVEL"
	// EnvLogFormat sets the log handler: text or json.
	EnvLogFormat = "FXSTORE_LOG_FORMAT"
	// EnvJournal sets the SQLite journal path.
	EnvJournal = "FXSTORE_JOURNAL"
)

// Config holds the settings shared by the CLI commands.
type Config struct {
	// MaxSteps is the handler-invocation quota per top-level dispatch.
	// Zero disables the quota.
	MaxSteps     int
	EffectPolicy engine.EffectPolicy
	// Journal is the SQLite journal path. Empty means no journal.
	Journal   string
	LogLevel  slog.Level
	LogFormat string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxSteps:     engine.DefaultMaxSteps,
		EffectPolicy: engine.PolicyAbort,
		LogLevel:     slog.LevelInfo,
		LogFormat:    "text",
	}
}

// Load reads path over the defaults, choosing the decoder by extension
// (.toml or .cue), then applies environment overrides. An empty path
// yields the defaults plus environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		var err error
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			cfg, err = loadTOML(path, cfg)
		case ".cue":
			cfg, err = loadCUE(path, cfg)
		default:
			err = fmt.Errorf("unsupported config file %q: want .toml or .cue", path)
		}
		if err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if raw := strings.TrimSpace(os.Getenv(EnvLogLevel)); raw != "" {
		lvl, err := ParseLevel(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		c.LogLevel = lvl
	}
	if raw := strings.TrimSpace(os.Getenv(EnvLogFormat)); raw != "" {
		c.LogFormat = strings.ToLower(raw)
	}
	if raw := strings.TrimSpace(os.Getenv(EnvJournal)); raw != "" {
		c.Journal = raw
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be >= 0, got %d", c.MaxSteps)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.LogFormat)
	}
	return nil
}

// EngineOptions returns the store options this configuration implies.
func (c Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithMaxSteps(c.MaxSteps),
		engine.WithEffectPolicy(c.EffectPolicy),
	}
}

// Logger builds a logger writing to w in the configured format and level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel parses debug, info, warn (or warning) and error.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", raw)
	}
}
