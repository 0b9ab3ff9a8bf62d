package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.MaxBundleSizeMB != 500 {
		t.Errorf("max_bundle_size_mb = %d, want 500", cfg.MaxBundleSizeMB)
	}
	if cfg.MaxBundleSizeBytes() != 500*1024*1024 {
		t.Errorf("bundle size bytes = %d", cfg.MaxBundleSizeBytes())
	}
	if cfg.PoolSize != 8 {
		t.Errorf("pool_size = %d, want 8", cfg.PoolSize)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	body := "max_bundle_size_mb = 64\nworkers = 3\ndata_dir = \"/var/lib/findingstore\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxBundleSizeMB != 64 || cfg.Workers != 3 || cfg.DataDir != "/var/lib/findingstore" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.QueueCapacity != 256 {
		t.Errorf("unset key did not keep its default: %d", cfg.QueueCapacity)
	}
}

func TestRenderTOML_RoundTrips(t *testing.T) {
	rendered, err := RenderTOML(Default())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	if err := os.WriteFile(path, rendered, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("reload rendered config: %v", err)
	}
	if cfg.MaxBundleSizeMB != 500 {
		t.Errorf("round-trip lost max_bundle_size_mb: %d", cfg.MaxBundleSizeMB)
	}
}
