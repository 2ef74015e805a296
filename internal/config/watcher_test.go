package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherEmitsOnConfigWrite(t *testing.T) {
	home := t.TempDir()
	path := ConfigPath(home)
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(home, "", nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case ev := <-w.Events():
		if filepath.Base(ev.Path) != "config.yaml" {
			t.Fatalf("unexpected event path: %s", ev.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload event within deadline")
	}
}

func TestWatcherWatchesPinnedCovenantFile(t *testing.T) {
	home := t.TempDir()
	pinned := filepath.Join(t.TempDir(), "covenant.json")
	if err := os.WriteFile(pinned, []byte(`{"version":"v1","scopes":[]}`), 0o644); err != nil {
		t.Fatalf("write covenant: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(home, pinned, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	if err := os.WriteFile(pinned, []byte(`{"version":"v2","scopes":[]}`), 0o644); err != nil {
		t.Fatalf("rewrite covenant: %v", err)
	}

	select {
	case ev := <-w.Events():
		if filepath.Base(ev.Path) != "covenant.json" {
			t.Fatalf("unexpected event path: %s", ev.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload event within deadline")
	}
}
