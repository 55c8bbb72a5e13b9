package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	if cfg.Port != "3000" {
		t.Fatalf("port=%q want=3000", cfg.Port)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("token ttl=%v want=24h", cfg.TokenTTL)
	}
	if cfg.TransferFee != 0 {
		t.Fatalf("transfer fee=%d want=0", cfg.TransferFee)
	}
	if cfg.Env != "development" {
		t.Fatalf("env=%q want=development", cfg.Env)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("TRANSFER_FEE", "500")
	t.Setenv("TOKEN_TTL", "1h")

	cfg := LoadConfig()
	if cfg.Port != "8080" {
		t.Fatalf("port=%q want=8080", cfg.Port)
	}
	if cfg.TransferFee != 500 {
		t.Fatalf("transfer fee=%d want=500", cfg.TransferFee)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("token ttl=%v want=1h", cfg.TokenTTL)
	}
}

func TestLoadConfigBadNumbersFallBack(t *testing.T) {
	t.Setenv("TRANSFER_FEE", "not-a-number")
	t.Setenv("TOKEN_TTL", "soon")

	cfg := LoadConfig()
	if cfg.TransferFee != 0 {
		t.Fatalf("transfer fee=%d want fallback 0", cfg.TransferFee)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("token ttl=%v want fallback 24h", cfg.TokenTTL)
	}
}
