package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COVENANT_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.Actor != "local" {
		t.Errorf("actor = %q", cfg.Actor)
	}
	if cfg.CompileSchedule != "0 * * * *" {
		t.Errorf("compile schedule = %q", cfg.CompileSchedule)
	}
	if cfg.MatchTopK != 5 {
		t.Errorf("match top k = %d", cfg.MatchTopK)
	}
	if cfg.DBPath != filepath.Join(cfg.HomeDir, "covenant.db") {
		t.Errorf("db path = %q", cfg.DBPath)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("COVENANT_HOME", home)

	content := []byte("log_level: debug\nactor: ci\nmatch_top_k: 3\notel:\n  enabled: true\n  exporter: stdout\n")
	if err := os.WriteFile(ConfigPath(home), content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Actor != "ci" || cfg.MatchTopK != 3 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if !cfg.Otel.Enabled || cfg.Otel.Exporter != "stdout" {
		t.Fatalf("otel config not applied: %+v", cfg.Otel)
	}
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("COVENANT_HOME", home)
	if err := os.WriteFile(ConfigPath(home), []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COVENANT_LOG_LEVEL", "warn")
	t.Setenv("COVENANT_DB", "/tmp/elsewhere.db")
	t.Setenv("COVENANT_ACTOR", "pipeline")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q, want env override", cfg.LogLevel)
	}
	if cfg.DBPath != "/tmp/elsewhere.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if cfg.Actor != "pipeline" {
		t.Errorf("actor = %q", cfg.Actor)
	}
}

func TestLoadCreatesHomeDir(t *testing.T) {
	home := filepath.Join(t.TempDir(), "nested", ".covenant")
	t.Setenv("COVENANT_HOME", home)

	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(home); err != nil {
		t.Fatalf("home dir not created: %v", err)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("COVENANT_HOME", home)
	if err := os.WriteFile(ConfigPath(home), []byte("log_level: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("COVENANT_HOME", home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.MatchTopK = 9
	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.MatchTopK != 9 {
		t.Fatalf("match top k = %d after round trip", again.MatchTopK)
	}
}
