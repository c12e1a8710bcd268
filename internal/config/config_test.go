package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Errorf("listen: got %q", cfg.Listen)
	}
	if cfg.Source.Timezone != "Europe/Madrid" {
		t.Errorf("source timezone: got %q", cfg.Source.Timezone)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config was not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perms: got %o, want 600", perm)
	}

	// Loading the written file round-trips.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Source.URL != cfg.Source.URL {
		t.Errorf("round trip changed source URL: %q vs %q", again.Source.URL, cfg.Source.URL)
	}
}

func TestLoadFillsPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := []byte("listen: 0.0.0.0:9999\nsource:\n  timezone: Europe/London\n")
	if err := os.WriteFile(path, partial, 0o600); err != nil {
		t.Fatalf("write partial config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9999" {
		t.Errorf("explicit value lost: %q", cfg.Listen)
	}
	if cfg.Source.Timezone != "Europe/London" {
		t.Errorf("explicit nested value lost: %q", cfg.Source.Timezone)
	}
	if cfg.Scrape.RetryAttempts != 2 {
		t.Errorf("missing value not defaulted: %d", cfg.Scrape.RetryAttempts)
	}
	if cfg.Refresh.RetentionDays != 180 {
		t.Errorf("missing retention not defaulted: %d", cfg.Refresh.RetentionDays)
	}
}

func TestSaveIsAtomicAndPrivate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:9000"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the config file, got %d entries", len(entries))
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Listen != "127.0.0.1:9000" {
		t.Errorf("saved value lost: %q", loaded.Listen)
	}
}
