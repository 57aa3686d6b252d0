// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the kvloop server configuration from YAML and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/exp/slices"

	"github.com/aristanetworks/kvloop/ae"
)

// Config is the root configuration.
type Config struct {
	// Listen is the TCP address the server accepts clients on.
	Listen string `mapstructure:"listen"`

	// SetSize is the number of descriptors the event loop can track.
	SetSize int `mapstructure:"setsize"`

	// Backend names the readiness backend; empty picks the best one.
	Backend string `mapstructure:"backend"`

	// Hz is how many times per second the server cron runs.
	Hz int `mapstructure:"hz"`

	// RehashBudgetMS bounds the time one cron run spends migrating
	// the client table.
	RehashBudgetMS int `mapstructure:"rehash_budget_ms"`

	// StatsEvery logs client table stats every that many cron runs.
	// Zero disables it.
	StatsEvery int `mapstructure:"stats_every"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Listen:         "127.0.0.1:6380",
		SetSize:        10128,
		Hz:             10,
		RehashBudgetMS: 1,
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path if non-empty, otherwise from
// KVLOOP_CONFIG or kvloop.yaml in the usual places, falling back to
// defaults. Environment variables prefixed KVLOOP_ override file
// values, with "." replaced by "_", e.g. KVLOOP_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("KVLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("setsize", cfg.SetSize)
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("hz", cfg.Hz)
	v.SetDefault("rehash_budget_ms", cfg.RehashBudgetMS)
	v.SetDefault("stats_every", cfg.StatsEvery)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv("KVLOOP_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kvloop")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".kvloop"))
		}
	}

	// Without an explicit path a missing file is fine; defaults and
	// env still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen address is required")
	}
	if c.SetSize <= 0 {
		return fmt.Errorf("invalid setsize: %d", c.SetSize)
	}
	if c.Hz < 1 || c.Hz > 500 {
		return fmt.Errorf("invalid hz: %d (want 1-500)", c.Hz)
	}
	if c.RehashBudgetMS < 0 {
		return fmt.Errorf("invalid rehash_budget_ms: %d", c.RehashBudgetMS)
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend != "" && !slices.Contains(ae.Backends(), c.Backend) {
		return fmt.Errorf("invalid backend %q, available: %s",
			c.Backend, strings.Join(ae.Backends(), ", "))
	}
	return nil
}
