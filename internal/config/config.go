// Package config loads daemon configuration from config.yaml in the
// covenant home directory, with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/go-covenant/internal/otel"
)

type Config struct {
	HomeDir string `yaml:"-"`

	// DBPath is the sqlite database location. Defaults to
	// <home>/covenant.db.
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	// Actor is recorded on audit rows for actions taken from this
	// machine when the caller does not name one.
	Actor string `yaml:"actor"`

	// CovenantPath pins the covenant.json declaration file. Empty means
	// resolve by walking up from the working directory.
	CovenantPath string `yaml:"covenant_path"`

	// CompileSchedule is the cron expression for the background pattern
	// compile sweep.
	CompileSchedule string `yaml:"compile_schedule"`

	// MatchTopK bounds how many ranked patterns a match returns by
	// default.
	MatchTopK int `yaml:"match_top_k"`

	Otel otel.Config `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:        "info",
		Actor:           "local",
		CompileSchedule: "0 * * * *",
		MatchTopK:       5,
	}
}

// HomeDir returns the covenant home directory, honoring the
// COVENANT_HOME override.
func HomeDir() string {
	if override := os.Getenv("COVENANT_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".covenant")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the covenant home, creating the home
// directory if needed. A missing config file is not an error; defaults
// apply. Environment variables override file values.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create covenant home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("COVENANT_DB"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("COVENANT_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("COVENANT_ACTOR"); raw != "" {
		cfg.Actor = raw
	}
	if raw := os.Getenv("COVENANT_FILE"); raw != "" {
		cfg.CovenantPath = raw
	}
	if raw := os.Getenv("COVENANT_COMPILE_SCHEDULE"); raw != "" {
		cfg.CompileSchedule = raw
	}
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "covenant.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Actor) == "" {
		cfg.Actor = "local"
	}
	if cfg.CompileSchedule == "" {
		cfg.CompileSchedule = "0 * * * *"
	}
	if cfg.MatchTopK <= 0 {
		cfg.MatchTopK = 5
	}
}

// Save writes the config back to config.yaml, preserving field order of
// the struct rather than the original file.
func Save(cfg Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(ConfigPath(cfg.HomeDir), out, 0o644)
}
