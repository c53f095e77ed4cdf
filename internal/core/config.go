package core

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	BaseDirName    = ".config/rembash"
	ConfigFileName = "config.hcl"
	DatabaseName   = "rembash.db"
)

// Config is the global configuration instance, populated by InitializeConfig
// before any command runs.
var Config *Configuration

// Configuration holds the complete rembash configuration after defaults and
// the config file have been merged.
type Configuration struct {
	ConfigPath string // Directory containing config file and database
	Verbose    int    // Verbosity level

	ListenPort       int           // TCP port the server binds (default 4070)
	Secret           string        // Shared handshake secret, without trailing newline
	HandshakeTimeout time.Duration // Deadline from accept to secret receipt
	MaxClients       int           // Connection table sized for 2x this many fds
	Workers          int           // Worker pool size; 0 means online CPU count
	TasksPerWorker   int           // Job queue capacity per worker
	StatsInterval    time.Duration // Engine stats logging period; 0 disables
	DatabasePath     string        // SQLite event log location
}

// hclConfig is the intermediate HCL decoding target. All fields are optional;
// absent fields fall back to defaults.
type hclConfig struct {
	Verbose          int    `hcl:"verbose,optional"`
	ListenPort       int    `hcl:"listen_port,optional"`
	Secret           string `hcl:"secret,optional"`
	HandshakeTimeout string `hcl:"handshake_timeout,optional"`
	MaxClients       int    `hcl:"max_clients,optional"`
	Workers          int    `hcl:"workers,optional"`
	TasksPerWorker   int    `hcl:"tasks_per_worker,optional"`
	StatsInterval    string `hcl:"stats_interval,optional"`
	DatabasePath     string `hcl:"database_path,optional"`
}

// DefaultConfiguration returns a Configuration populated with defaults for
// the given config directory.
func DefaultConfiguration(configPath string) *Configuration {
	return &Configuration{
		ConfigPath:       configPath,
		ListenPort:       4070,
		Secret:           "cs407rembash",
		HandshakeTimeout: 3 * time.Second,
		MaxClients:       10000,
		Workers:          0,
		TasksPerWorker:   64,
		StatsInterval:    time.Minute,
		DatabasePath:     filepath.Join(configPath, DatabaseName),
	}
}

// GetConfigFilePath returns the config file location inside configPath.
func GetConfigFilePath(configPath string) string {
	return filepath.Join(configPath, ConfigFileName)
}

// PoolWorkers resolves the worker count, substituting the online CPU count
// when the config leaves it at zero.
func (c *Configuration) PoolWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// QueueCapacity returns the job queue size derived from the pool dimensions.
func (c *Configuration) QueueCapacity() int {
	tasks := c.TasksPerWorker
	if tasks < 1 {
		tasks = 1
	}
	return c.PoolWorkers() * tasks
}

// TableSize returns the connection table size. Each session consumes two fds
// (socket and PTY master), plus slack for the listener, muxes and stdio.
func (c *Configuration) TableSize() int {
	return c.MaxClients*2 + 5
}

// LoadConfig reads the HCL config file and merges it over defaults. A missing
// file is not an error; the defaults are returned unchanged.
func LoadConfig(configPath string) (*Configuration, error) {
	cfg := DefaultConfiguration(configPath)

	filename := GetConfigFilePath(configPath)
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return cfg, nil
	}

	var hclCfg hclConfig
	if err := hclsimple.DecodeFile(filename, nil, &hclCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyHCL(cfg, &hclCfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyHCL copies the set fields of an hclConfig over a Configuration.
func applyHCL(cfg *Configuration, hclCfg *hclConfig) error {
	if hclCfg.Verbose != 0 {
		cfg.Verbose = hclCfg.Verbose
	}
	if hclCfg.ListenPort != 0 {
		cfg.ListenPort = hclCfg.ListenPort
	}
	if hclCfg.Secret != "" {
		cfg.Secret = hclCfg.Secret
	}
	if hclCfg.HandshakeTimeout != "" {
		d, err := time.ParseDuration(hclCfg.HandshakeTimeout)
		if err != nil {
			return fmt.Errorf("invalid handshake_timeout: %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	if hclCfg.MaxClients != 0 {
		cfg.MaxClients = hclCfg.MaxClients
	}
	if hclCfg.Workers != 0 {
		cfg.Workers = hclCfg.Workers
	}
	if hclCfg.TasksPerWorker != 0 {
		cfg.TasksPerWorker = hclCfg.TasksPerWorker
	}
	if hclCfg.StatsInterval != "" {
		d, err := time.ParseDuration(hclCfg.StatsInterval)
		if err != nil {
			return fmt.Errorf("invalid stats_interval: %w", err)
		}
		cfg.StatsInterval = d
	}
	if hclCfg.DatabasePath != "" {
		cfg.DatabasePath = hclCfg.DatabasePath
	}
	return nil
}

// InitializeConfig loads the global configuration for the given config
// directory, creating the directory if needed.
func InitializeConfig(configPath string) error {
	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}
