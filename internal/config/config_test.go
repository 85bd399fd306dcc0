package config

import (
	"path/filepath"
	"testing"
)

func TestWriteDefaultThenLoadConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "predcore.toml")

	written, err := WriteDefault(path, "predcore", "test")
	if err != nil {
		t.Fatalf("write default: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Service != written.Service || loaded.Env != written.Env {
		t.Fatalf("round trip mismatch: got %+v, want %+v", loaded, written)
	}
	if loaded.AMM.Kind != AMMKindPMAMM {
		t.Fatalf("expected default AMM kind pmamm, got %q", loaded.AMM.Kind)
	}
	if loaded.Leverage.AbsoluteCap.IsZero() {
		t.Fatalf("expected leverage.AbsoluteCap to be defaulted, got zero")
	}
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error loading a nonexistent config file")
	}
}

func TestValidateRejectsUnknownAMMKind(t *testing.T) {
	cfg := Config{Service: "predcore", AMM: AMMConfig{Kind: "bogus"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown amm.Kind")
	}
}

func TestValidateRejectsExcessiveCongestionCap(t *testing.T) {
	cfg := Config{Service: "predcore", AMM: AMMConfig{Kind: AMMKindLMSR}}
	cfg.EnsureDefaults()
	cfg.Fee.CongestionCapBps = 20000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for congestion cap above 10000 bps")
	}
}

func TestValidateRequiresServiceName(t *testing.T) {
	cfg := Config{AMM: AMMConfig{Kind: AMMKindLMSR}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing service name")
	}
}
