package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_AppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http_addr, got %q", cfg.HTTPAddr)
	}
	if cfg.Storage != BackendSQLite {
		t.Fatalf("expected default sqlite storage, got %q", cfg.Storage)
	}
	if _, ok := cfg.Profiles["default"]; !ok {
		t.Fatal("expected a default profile")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "http_addr: \":9090\"\nmax_concurrent: 2\nstorage: memory\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected overridden http_addr, got %q", cfg.HTTPAddr)
	}
	if cfg.MaxConcurrent != 2 {
		t.Fatalf("expected overridden max_concurrent, got %d", cfg.MaxConcurrent)
	}
	if cfg.Storage != BackendMemory {
		t.Fatalf("expected overridden storage, got %q", cfg.Storage)
	}
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := Config{Storage: "bogus", MaxConcurrent: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown storage backend")
	}
}

func TestValidate_RejectsZeroConcurrency(t *testing.T) {
	cfg := Config{Storage: BackendMemory, MaxConcurrent: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for max_concurrent < 1")
	}
}
