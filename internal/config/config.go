// Package config loads the server's startup configuration from a TOML
// file, the concrete format this implementation picks for the "keyed
// structured file" spec.md's External Interfaces section leaves delegated.
// CLI flags (see cmd/wired-server) override the deployment-level subset of
// these values, mirroring the teacher's split between main.go flags and
// its SQLite-backed settings table.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full set of recognized startup options (§6, non-exhaustive
// list expanded to concrete fields).
type Config struct {
	Address []string `toml:"address"`
	Port    int      `toml:"port"`

	Name        string `toml:"name"`
	Description string `toml:"description"`
	Banner      string `toml:"banner"`

	Files          string `toml:"files"`
	IndexTime      int    `toml:"index_time"`
	RecursiveLimit int    `toml:"recursive_list_depth_limit"`

	TotalDownloads     int `toml:"total_downloads"`
	TotalUploads       int `toml:"total_uploads"`
	TotalDownloadSpeed int `toml:"total_download_speed"`
	TotalUploadSpeed   int `toml:"total_upload_speed"`

	NewsLimit int `toml:"news_limit"`

	Category      []string `toml:"category"`
	EnableTracker bool     `toml:"enable_tracker"`

	DataDir  string `toml:"data_dir"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// AdminAddr is the listen address for the out-of-band HTTP admin
	// surface (health/stats/metrics); empty disables it.
	AdminAddr string `toml:"admin_addr"`
}

// Default returns the configuration a freshly initialized server data
// directory starts with, matching the teacher's seedDefaults approach of
// seeding a sane minimum rather than requiring every field up front.
func Default() *Config {
	return &Config{
		Address:        []string{"0.0.0.0"},
		Port:            4871,
		Name:            "Wired Server",
		Files:           "files",
		IndexTime:       3600,
		RecursiveLimit:  0,
		TotalDownloads:  0,
		TotalUploads:    0,
		NewsLimit:       30,
		DataDir:         "data",
	}
}

// Load reads and parses a TOML configuration file, filling in defaults for
// any field the file omits.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
