package core

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ListenPort != 4070 {
		t.Errorf("ListenPort = %d, want 4070", cfg.ListenPort)
	}
	if cfg.Secret != "cs407rembash" {
		t.Errorf("Secret = %q, want cs407rembash", cfg.Secret)
	}
	if cfg.HandshakeTimeout != 3*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 3s", cfg.HandshakeTimeout)
	}
	if cfg.MaxClients != 10000 {
		t.Errorf("MaxClients = %d, want 10000", cfg.MaxClients)
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	hcl := `
listen_port       = 4170
secret            = "letmein"
handshake_timeout = "5s"
max_clients       = 64
workers           = 2
tasks_per_worker  = 8
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(hcl), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ListenPort != 4170 {
		t.Errorf("ListenPort = %d, want 4170", cfg.ListenPort)
	}
	if cfg.Secret != "letmein" {
		t.Errorf("Secret = %q, want letmein", cfg.Secret)
	}
	if cfg.HandshakeTimeout != 5*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 5s", cfg.HandshakeTimeout)
	}
	if cfg.MaxClients != 64 {
		t.Errorf("MaxClients = %d, want 64", cfg.MaxClients)
	}
	if got := cfg.PoolWorkers(); got != 2 {
		t.Errorf("PoolWorkers() = %d, want 2", got)
	}
	if got := cfg.QueueCapacity(); got != 16 {
		t.Errorf("QueueCapacity() = %d, want 16", got)
	}
	if got := cfg.TableSize(); got != 64*2+5 {
		t.Errorf("TableSize() = %d, want %d", got, 64*2+5)
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	dir := t.TempDir()
	hcl := `handshake_timeout = "not-a-duration"`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(hcl), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(dir); err == nil {
		t.Fatal("expected an error for an invalid duration")
	}
}

func TestLoadConfig_MalformedHCL(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("listen_port = {"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(dir); err == nil {
		t.Fatal("expected an error for malformed HCL")
	}
}

func TestPoolWorkers_DefaultsToCPUCount(t *testing.T) {
	cfg := DefaultConfiguration(t.TempDir())
	if got := cfg.PoolWorkers(); got != runtime.NumCPU() {
		t.Errorf("PoolWorkers() = %d, want %d", got, runtime.NumCPU())
	}
}
