package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Decode.BatchSize != 1000 || cfg.Decode.SchemaSource != SchemaSourceBuiltin {
		t.Fatalf("unexpected decode defaults: %+v", cfg.Decode)
	}
	if cfg.Cache.StaleRunAfter != 30*time.Minute {
		t.Fatalf("unexpected stale run default %s", cfg.Cache.StaleRunAfter)
	}
	if cfg.Database.Port != 5432 {
		t.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
database:
  host: db.internal
  port: 6543
decode:
  batch_size: 250
  encoding: cp037
  schema:
    source: file
    path: layouts.yaml
cache:
  stale_run_after: 10m
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("TDDF_DATABASE_HOST", "env-host")
	t.Setenv("TDDF_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "env-host" || cfg.Database.Port != 6543 {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Decode.BatchSize != 250 || cfg.Decode.Encoding != "cp037" || cfg.Decode.SchemaPath != "layouts.yaml" {
		t.Fatalf("unexpected decode config: %+v", cfg.Decode)
	}
	if cfg.Cache.StaleRunAfter != 10*time.Minute || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected cache/log config: %+v %+v", cfg.Cache, cfg.Log)
	}
}

func TestLoadExplicitFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tddf.yaml")
	if err := os.WriteFile(path, []byte("decode:\n  sniff_lines: 50\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Decode.SniffLines != 50 {
		t.Fatalf("expected sniff_lines 50, got %d", cfg.Decode.SniffLines)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"batch size":   func(c *Config) { c.Decode.BatchSize = 0 },
		"schema path":  func(c *Config) { c.Decode.SchemaSource = SchemaSourceTemplate },
		"bad source":   func(c *Config) { c.Decode.SchemaSource = "s3" },
		"bad timezone": func(c *Config) { c.Decode.Timezone = "Mars/Olympus" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		} else if !strings.Contains(err.Error(), "decode.") {
			t.Fatalf("%s: expected error to name the key, got %v", name, err)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
