// Package config loads the cluster's admin configuration from a TOML
// file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config carries the recognized admin options. RootDir is required;
// everything else is optional.
type Config struct {
	// ListenAddr is the PostgreSQL wire endpoint, defaulting to :5432.
	ListenAddr string `toml:"listen_addr"`
	// RootDir is the base path for per-catalog stores ({root}/catalogs/{name}).
	RootDir string `toml:"root_dir"`
	// CacheSizeMB sizes each on-disk catalog's block cache in MB. 0 (or
	// omitting the option) keeps badger's default block cache size; no
	// value turns the block cache off.
	CacheSizeMB int `toml:"cache_size_mb"`
	// BackupDir is resolved (and created) on startup when set.
	BackupDir string `toml:"backup_dir"`
	// CheckpointDir, when set, receives a backup of every catalog on
	// graceful shutdown, under {checkpoint_dir}/{catalog}/{millis}/.
	CheckpointDir string `toml:"checkpoint_dir"`
	// ManifestFile points at the cluster user manifest.
	ManifestFile string `toml:"manifest_file"`
	// AdminUser is the distinguished administrator username granted
	// SUPER_USER at session bind.
	AdminUser string `toml:"admin_user"`
}

// Load reads and validates a config file, creating the directories the
// server needs.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies defaults and prepares the on-disk layout.
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("config: root_dir is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":5432"
	}
	if c.AdminUser == "" {
		c.AdminUser = "admin"
	}
	if err := os.MkdirAll(c.CatalogsDir(), 0o755); err != nil {
		return fmt.Errorf("config: create catalogs dir: %w", err)
	}
	if c.BackupDir != "" {
		if err := os.MkdirAll(c.BackupDir, 0o755); err != nil {
			return fmt.Errorf("config: create backup dir: %w", err)
		}
	}
	return nil
}

// CatalogsDir is {root}/catalogs.
func (c *Config) CatalogsDir() string { return filepath.Join(c.RootDir, "catalogs") }

// CatalogPath is the store directory for one named catalog.
func (c *Config) CatalogPath(name string) string { return filepath.Join(c.CatalogsDir(), name) }
