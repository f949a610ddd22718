package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Collection.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Resilience.Retry.InitialDelay = 250 * time.Millisecond

	store := NewStateStore(path)
	if err := store.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err := store.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(got.Collection.Symbols) != 2 || got.Collection.Symbols[1] != "ETHUSDT" {
		t.Errorf("symbols did not round-trip: %v", got.Collection.Symbols)
	}
	if got.Resilience.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("expected initial_delay 250ms, got %s", got.Resilience.Retry.InitialDelay)
	}
	if got.Resilience.Breaker.RecoveryTimeout != cfg.Resilience.Breaker.RecoveryTimeout {
		t.Errorf("recovery_timeout did not round-trip: got %s want %s", got.Resilience.Breaker.RecoveryTimeout, cfg.Resilience.Breaker.RecoveryTimeout)
	}
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "missing.json"))
	if _, err := store.LoadConfig(); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestLoadConfigDefaultsDurationsWhenOmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"database_type":"embedded_file"}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewStateStore(path).LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Resilience.Retry.InitialDelay != 200*time.Millisecond {
		t.Errorf("expected fallback initial_delay 200ms, got %s", cfg.Resilience.Retry.InitialDelay)
	}
	if cfg.Resilience.Breaker.RecoveryTimeout != 120*time.Second {
		t.Errorf("expected fallback recovery_timeout 120s, got %s", cfg.Resilience.Breaker.RecoveryTimeout)
	}
}
