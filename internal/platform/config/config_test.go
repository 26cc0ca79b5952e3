package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageDriver != StorageMemory || cfg.HTTPPort != "8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxCandidatesPerPoll != 100 || cfg.AllowCandidatesAfterStart {
		t.Fatalf("unexpected candidate policy defaults: %+v", cfg)
	}
}

func TestLoadYAMLThenEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.yaml")
	raw := []byte("storage_driver: buntdb\nbuntdb_path: /tmp/ledger.db\nmax_candidates_per_poll: 5\nresults_cache_ttl: 30s\npoll_authorities:\n  - alice\n")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_CANDIDATES_PER_POLL", "7")
	t.Setenv("ALLOW_CANDIDATES_AFTER_START", "yes")
	t.Setenv("POLL_AUTHORITIES", "bob, carol")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageDriver != StorageBuntDB || cfg.BuntDBPath != "/tmp/ledger.db" {
		t.Fatalf("expected yaml storage settings, got %+v", cfg)
	}
	if cfg.ResultsCacheTTL != 30*time.Second {
		t.Fatalf("expected yaml cache ttl, got %s", cfg.ResultsCacheTTL)
	}
	if cfg.MaxCandidatesPerPoll != 7 || !cfg.AllowCandidatesAfterStart {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if len(cfg.PollAuthorities) != 2 || cfg.PollAuthorities[1] != "carol" {
		t.Fatalf("expected env authorities, got %v", cfg.PollAuthorities)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	// Registers cleanup for the value godotenv writes into the process.
	t.Setenv("HTTP_PORT", "")
	os.Unsetenv("HTTP_PORT")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HTTP_PORT=9191\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "9191" {
		t.Fatalf("expected port from .env, got %q", cfg.HTTPPort)
	}
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("FLAG_ON", "on")
	t.Setenv("FLAG_BAD", "maybe")
	if !envBool("FLAG_ON", false) {
		t.Fatalf("expected on to be true")
	}
	if !envBool("FLAG_BAD", true) {
		t.Fatalf("expected fallback for unparseable value")
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	previous, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(previous)
	})
}
