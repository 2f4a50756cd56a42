package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/roach88/fxstore/internal/engine"
)

type fileConfig struct {
	MaxSteps     int    `toml:"max_steps" json:"max_steps"`
	EffectPolicy string `toml:"effect_policy" json:"effect_policy"`
	Journal      string `toml:"journal" json:"journal"`
	LogLevel     string `toml:"log_level" json:"log_level"`
	LogFormat    string `toml:"log_format" json:"log_format"`
}

func loadTOML(path string, cfg Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	return raw.overlay(cfg, meta.IsDefined)
}

// overlay copies the fields for which defined reports true onto cfg.
func (raw fileConfig) overlay(cfg Config, defined func(key ...string) bool) (Config, error) {
	if defined("max_steps") {
		cfg.MaxSteps = raw.MaxSteps
	}

	if defined("effect_policy") {
		p, err := engine.ParseEffectPolicy(raw.EffectPolicy)
		if err != nil {
			return Config{}, fmt.Errorf("parse effect_policy: %w", err)
		}
		cfg.EffectPolicy = p
	}

	if defined("journal") {
		cfg.Journal = strings.TrimSpace(raw.Journal)
	}

	if defined("log_level") {
		lvl, err := ParseLevel(raw.LogLevel)
		if err != nil {
			return Config{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = lvl
	}

	if defined("log_format") {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(raw.LogFormat))
	}

	return cfg, nil
}
