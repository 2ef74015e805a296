package telemetry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/go-covenant/internal/telemetry"
)

func TestNewLoggerWritesJSONLines(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := telemetry.NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("gate decision", "scope", "audio.playback", "allowed", true)
	logger.Debug("should be filtered at info level")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"gate decision"`) {
		t.Fatalf("missing info line in %q", out)
	}
	if !strings.Contains(out, `"timestamp"`) {
		t.Fatalf("time key not renamed in %q", out)
	}
	if !strings.Contains(out, `"component":"covenant"`) {
		t.Fatalf("missing component attr in %q", out)
	}
	if strings.Contains(out, "should be filtered") {
		t.Fatalf("debug line leaked at info level: %q", out)
	}
}

func TestNewLoggerRedactsSecrets(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := telemetry.NewLogger(home, "debug", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("covenant activate",
		"api_key", "sk_live_abcdef1234567890XY",
		"reason", "auth_token=deadbeefdeadbeef1234 rejected")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "sk_live_abcdef1234567890XY") {
		t.Fatalf("sensitive attr value leaked: %q", out)
	}
	if strings.Contains(out, "deadbeefdeadbeef1234") {
		t.Fatalf("secret in free text leaked: %q", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction placeholder in %q", out)
	}
}
