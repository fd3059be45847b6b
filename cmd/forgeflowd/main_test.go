package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forgeflow/orchestrator/internal/config"
)

func TestOpenStores_MemoryBackend(t *testing.T) {
	store, checkpoints, err := openStores(config.Config{Storage: config.BackendMemory})
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	if store == nil || checkpoints == nil {
		t.Fatal("expected non-nil stores for the memory backend")
	}
}

func TestOpenStores_SQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.db")
	store, checkpoints, err := openStores(config.Config{Storage: config.BackendSQLite, DSN: path})
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	defer store.Close()
	if store == nil || checkpoints == nil {
		t.Fatal("expected non-nil stores for the sqlite backend")
	}
}

func TestOpenStores_UnknownBackend(t *testing.T) {
	if _, _, err := openStores(config.Config{Storage: "bogus"}); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestBuildDriver_DefaultsToMockWithNoProvider(t *testing.T) {
	os.Unsetenv("FORGEFLOW_ARCHITECT_PROVIDER")
	d, err := buildDriver("architect")
	if err != nil {
		t.Fatalf("buildDriver: %v", err)
	}
	if d == nil {
		t.Fatal("expected a non-nil mock driver")
	}
}

func TestBuildDriver_AnthropicRequiresAPIKey(t *testing.T) {
	t.Setenv("FORGEFLOW_REVIEWER_PROVIDER", "anthropic")
	os.Unsetenv("ANTHROPIC_API_KEY")
	if _, err := buildDriver("reviewer"); err == nil {
		t.Fatal("expected an error when ANTHROPIC_API_KEY is unset")
	}
}
