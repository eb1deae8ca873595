package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/paperengine/internal/config"
	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if !cfg.BaseSizeUSD.Equal(decimal.NewFromInt(100)) {
		t.Errorf("BaseSizeUSD = %s, want 100", cfg.BaseSizeUSD)
	}
	if cfg.MaxConcurrentPositions != 5 {
		t.Errorf("MaxConcurrentPositions = %d, want 5", cfg.MaxConcurrentPositions)
	}
	if cfg.Thresholds.BlacklistWinRate != 0.30 {
		t.Errorf("BlacklistWinRate = %v, want 0.30", cfg.Thresholds.BlacklistWinRate)
	}
	if cfg.Server.MetricsPort != 9090 {
		t.Errorf("MetricsPort = %d, want 9090", cfg.Server.MetricsPort)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paperengine.yaml")
	body := []byte("universe:\n  - BTC-USD\n  - ETH-USD\nbase_size_usd: \"250\"\nmax_concurrent_positions: 8\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if len(cfg.Universe) != 2 || cfg.Universe[0] != "BTC-USD" || cfg.Universe[1] != "ETH-USD" {
		t.Errorf("Universe = %v, want [BTC-USD ETH-USD]", cfg.Universe)
	}
	if !cfg.BaseSizeUSD.Equal(decimal.NewFromInt(250)) {
		t.Errorf("BaseSizeUSD = %s, want 250", cfg.BaseSizeUSD)
	}
	if cfg.MaxConcurrentPositions != 8 {
		t.Errorf("MaxConcurrentPositions = %d, want 8", cfg.MaxConcurrentPositions)
	}
	// Untouched fields still fall back to spec defaults.
	if cfg.ReflectMaxQueue != 50 {
		t.Errorf("ReflectMaxQueue = %d, want unchanged default 50", cfg.ReflectMaxQueue)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PAPERENGINE_MAX_CONCURRENT_POSITIONS", "12")
	t.Setenv("PAPERENGINE_BASE_SIZE_USD", "333")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.MaxConcurrentPositions != 12 {
		t.Errorf("MaxConcurrentPositions = %d, want 12 from env", cfg.MaxConcurrentPositions)
	}
	if !cfg.BaseSizeUSD.Equal(decimal.NewFromInt(333)) {
		t.Errorf("BaseSizeUSD = %s, want 333 from env", cfg.BaseSizeUSD)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error loading a missing config file")
	}
}
