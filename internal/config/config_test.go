package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, "[server]\nport = 8080\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Address != "0.0.0.0" {
		t.Errorf("address: got %q, want 0.0.0.0", cfg.Server.Address)
	}
	if cfg.Storage.BlockSize != 4<<20 {
		t.Errorf("block_size: got %d, want %d", cfg.Storage.BlockSize, 4<<20)
	}
	if cfg.Storage.Metadata.SnapshotThreshold != 10000 {
		t.Errorf("snapshot_threshold: got %d, want 10000", cfg.Storage.Metadata.SnapshotThreshold)
	}
	if cfg.Server.ShutdownTimeoutSecs != 30 {
		t.Errorf("shutdown timeout: got %d, want 30", cfg.Server.ShutdownTimeoutSecs)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	p := writeConfig(t, "")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("default port: got %d, want 9000", cfg.Server.Port)
	}
	if cfg.Storage.Cache.BlockCache.Policy != "write_through" {
		t.Errorf("default policy: got %q", cfg.Storage.Cache.BlockCache.Policy)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	p := writeConfig(t, "{{not valid toml")
	_, err := Load(p)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Config{Server: ServerConfig{Address: "127.0.0.1", Port: 8080}}
	if got := cfg.ListenAddr(); got != "127.0.0.1:8080" {
		t.Errorf("ListenAddr: got %q, want 127.0.0.1:8080", got)
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	cfg := `
[server]
address = "192.168.1.1"
port = 3000

[storage]
block_size = 1048576

[[storage.disks]]
id = "disk-0"
path = "/dev/disk0"
capacity_bytes = 1000000000

[storage.cache.block_cache]
enabled = true
size_mb = 512
policy = "write_back"

[osd]
node_id = "node-a"

[osd.failure_domain]
region = "us-east"
rack = "r1"

[gateway]
hedge_delay_ms = 75
redis_addr = "127.0.0.1:6379"
`
	p := writeConfig(t, cfg)
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Server.Address != "192.168.1.1" {
		t.Errorf("address: got %q", got.Server.Address)
	}
	if got.Server.Port != 3000 {
		t.Errorf("port: got %d", got.Server.Port)
	}
	if got.Storage.BlockSize != 1048576 {
		t.Errorf("block_size: got %d", got.Storage.BlockSize)
	}
	if len(got.Storage.Disks) != 1 || got.Storage.Disks[0].ID != "disk-0" {
		t.Errorf("disks: got %+v", got.Storage.Disks)
	}
	if got.Storage.Cache.BlockCache.Policy != "write_back" {
		t.Errorf("policy: got %q", got.Storage.Cache.BlockCache.Policy)
	}
	if got.OSD.NodeID != "node-a" {
		t.Errorf("node_id: got %q", got.OSD.NodeID)
	}
	if got.OSD.FailureDomain.Region != "us-east" {
		t.Errorf("region: got %q", got.OSD.FailureDomain.Region)
	}
	if got.Gateway.HedgeDelayMs != 75 {
		t.Errorf("hedge_delay_ms: got %d", got.Gateway.HedgeDelayMs)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	p := writeConfig(t, "[server]\nport = 8080\n")
	t.Setenv("OBJIO_PORT", "9191")
	t.Setenv("OBJIO_NODE_ID", "node-env")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port override: got %d, want 9191", cfg.Server.Port)
	}
	if cfg.OSD.NodeID != "node-env" {
		t.Errorf("node_id override: got %q", cfg.OSD.NodeID)
	}
}
