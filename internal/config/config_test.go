package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.Database.Driver)
	}
	if cfg.Database.Path != "tapseries.db" {
		t.Fatalf("expected default database path, got %q", cfg.Database.Path)
	}
	if cfg.Database.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("expected 30m lifetime, got %s", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected info log level, got %q", cfg.Log.Level)
	}
}

func TestLoadLegacyDatabasePathEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_PATH", "  data/legacy.db ")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Database.Path != "data/legacy.db" {
		t.Fatalf("expected legacy env path, got %q", cfg.Database.Path)
	}
}

func TestLoadPrefixedEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	file := filepath.Join(dir, "custom.yaml")
	content := []byte("log:\n  level: debug\ndatabase:\n  path: from-file.db\n")
	if err := os.WriteFile(file, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TAPSERIES_DATABASE_PATH", "from-env.db")

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected level from file, got %q", cfg.Log.Level)
	}
	if cfg.Database.Path != "from-env.db" {
		t.Fatalf("expected env to win over file, got %q", cfg.Database.Path)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())

	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := Config{Database: DatabaseConfig{Driver: "postgres"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}

	cfg.Database.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	})
}
