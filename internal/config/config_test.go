package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("OWNER_PIN", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.OwnerPIN != "" {
		t.Fatalf("expected empty OWNER_PIN when unset, got %q", cfg.OwnerPIN)
	}
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "zero")
	t.Setenv("LOW_STOCK_THRESHOLD", "-3")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "30")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ReportCacheTTLSeconds != 60 {
		t.Fatalf("expected default report ttl 60, got %d", cfg.ReportCacheTTLSeconds)
	}
	if cfg.LowStockThreshold != 5 {
		t.Fatalf("expected default low stock threshold 5, got %d", cfg.LowStockThreshold)
	}
	if cfg.AccessTokenTTLMinutes != 30 {
		t.Fatalf("expected token ttl 30, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadReadsEnvFileWithoutOverriding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("PORT=9090\nAPP_ENV=development\nOWNER_PIN=739154\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("PORT", "7070")
	t.Setenv("APP_ENV", "")
	t.Setenv("OWNER_PIN", "")
	os.Unsetenv("APP_ENV")
	os.Unsetenv("OWNER_PIN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "7070" {
		t.Fatalf("expected real environment to win, got port %s", cfg.Port)
	}
	if !cfg.Development() {
		t.Fatalf("expected APP_ENV from file, got %q", cfg.AppEnv)
	}
	if cfg.OwnerPIN != "739154" {
		t.Fatalf("expected OWNER_PIN from file, got %q", cfg.OwnerPIN)
	}
}
