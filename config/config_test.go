package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeYAML(t, `
database_path: /tmp/app.sqlite
min_connections: 2
max_connections: 10
`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AcquireTimeout != 10*time.Second {
		t.Errorf("AcquireTimeout default = %v, want 10s", cfg.AcquireTimeout)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleTimeout default = %v, want 5m", cfg.IdleTimeout)
	}
	if cfg.AdminPort != 8080 {
		t.Errorf("AdminPort default = %d, want 8080", cfg.AdminPort)
	}
}

func TestLoad_RejectsMinGreaterThanMax(t *testing.T) {
	path := writeYAML(t, `
database_path: /tmp/app.sqlite
min_connections: 10
max_connections: 5
`)

	if _, err := Load(path, ""); err == nil {
		t.Fatal("Load() with min > max, want error")
	}
}

func TestLoad_RejectsMissingDatabasePath(t *testing.T) {
	path := writeYAML(t, `
min_connections: 1
max_connections: 5
`)

	if _, err := Load(path, ""); err == nil {
		t.Fatal("Load() with empty database_path, want error")
	}
}

func TestLoad_EnvOverridesDatabasePath(t *testing.T) {
	path := writeYAML(t, `
database_path: /tmp/app.sqlite
min_connections: 1
max_connections: 5
`)

	t.Setenv("SQLITEPOOL_DATABASE_PATH", "/tmp/overridden.sqlite")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabasePath != "/tmp/overridden.sqlite" {
		t.Errorf("DatabasePath = %q, want override applied", cfg.DatabasePath)
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default("/tmp/app.sqlite")
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() produced invalid config: %v", err)
	}
}
