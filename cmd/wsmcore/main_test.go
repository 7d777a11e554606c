package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("WSMCORE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("WSMCORE_CONFIG", "/etc/wsmcore/config.yaml")
	if got := getConfigPath(); got != "/etc/wsmcore/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

func TestRunMissingConfig(t *testing.T) {
	t.Setenv("WSMCORE_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() error = nil, want config load failure")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want config load failure", err)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	// Valid YAML but fails validation: JWT secret missing.
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := `
database:
  path: ./test.db
mqtt:
  topic_root: wsm
api:
  port: 8080
`
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("WSMCORE_CONFIG", path)
	t.Setenv("WSMCORE_JWT_SECRET", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() error = nil, want validation failure")
	}
	if !strings.Contains(err.Error(), "config") {
		t.Errorf("run() error = %v, want config validation failure", err)
	}
}
