// Package config loads the static, immutable configuration consumed by the
// core. The launcher (cmd/boxserver, cmd/boxcheck) reads this once; nothing
// under pkg/ reads the environment or re-reads this file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DiscSet is one named three-path tuple that objects are striped across.
type DiscSet struct {
	Name  string   `yaml:"name"`
	Paths []string `yaml:"paths"` // exactly 3
}

// Config is the static configuration for a boxvault server or checker run.
type Config struct {
	// DiscSets lists every disc set this server knows how to serve.
	DiscSets []DiscSet `yaml:"disc_sets"`

	// BlockSize is the RAID striping unit in bytes (nominally 1024 or 2048).
	BlockSize int `yaml:"block_size"`

	// SegmentBits is the ONS fan-out segment length, low-order first.
	SegmentBits uint `yaml:"segment_bits"`

	// RetentionWindow bounds how long old/deleted entries survive before
	// housekeeping reclaims them.
	RetentionWindow time.Duration `yaml:"retention_window"`

	// HousekeepingInterval is how often the background reclaim sweep runs.
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval"`

	// MasterKeyPath points at the file holding the server's account master
	// keys (one 32-byte key per account, see pkg/cryptox).
	MasterKeyPath string `yaml:"master_key_path"`

	// RegistryPath is the directory holding the BoltDB file backing
	// pkg/registry.
	RegistryPath string `yaml:"registry_path"`

	// ControlDir is the base directory under which each account gets its
	// own <ControlDir>/<accountID>/ for the write lock and AS file,
	// separate from the disc-striped object paths themselves.
	ControlDir string `yaml:"control_dir"`

	// DirectoryCacheSize bounds the per-session LRU directory cache
	// (MAX_CACHE_SIZE in spec.md §4.6).
	DirectoryCacheSize int `yaml:"directory_cache_size"`

	// StoreInfoSaveDelay bounds how many deferred accounting updates
	// accumulate before AS is flushed (STORE_INFO_SAVE_DELAY).
	StoreInfoSaveDelay int `yaml:"store_info_save_delay"`

	// MaxWaitForHousekeepingRelease bounds how long a write session waits
	// for housekeeping to release the account lock.
	MaxWaitForHousekeepingRelease time.Duration `yaml:"max_wait_for_housekeeping_release"`

	// ListenAddr is where cmd/boxserver accepts session-protocol
	// connections; TLS/socket setup itself is out of scope (spec.md §1),
	// this field only names the contract surface.
	ListenAddr string `yaml:"listen_addr"`

	// HealthAddr is the health/metrics HTTP listener.
	HealthAddr string `yaml:"health_addr"`
}

// Default returns sane defaults matching the constants named in spec.md.
func Default() Config {
	return Config{
		BlockSize:                     1024,
		SegmentBits:                   8,
		RetentionWindow:               30 * 24 * time.Hour,
		HousekeepingInterval:          time.Hour,
		DirectoryCacheSize:            32,
		StoreInfoSaveDelay:            96,
		MaxWaitForHousekeepingRelease: 4 * time.Second,
		ListenAddr:                    ":2201",
		HealthAddr:                    ":2202",
	}
}

// Load reads and parses a YAML config file, filling unset fields from
// Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural well-formedness (not business semantics).
func (c Config) Validate() error {
	if c.BlockSize <= 0 {
		return fmt.Errorf("config: block_size must be positive")
	}
	if c.SegmentBits == 0 || c.SegmentBits > 32 {
		return fmt.Errorf("config: segment_bits out of range")
	}
	for _, ds := range c.DiscSets {
		if len(ds.Paths) != 3 {
			return fmt.Errorf("config: disc set %q must have exactly 3 paths, got %d", ds.Name, len(ds.Paths))
		}
	}
	return nil
}

// DiscSetByName looks up a configured disc set.
func (c Config) DiscSetByName(name string) (DiscSet, bool) {
	for _, ds := range c.DiscSets {
		if ds.Name == name {
			return ds, true
		}
	}
	return DiscSet{}, false
}
