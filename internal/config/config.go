// Package config loads the daemon's TOML configuration.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/pairmsg/pairmsg/internal/identity"
)

// Identity is the configured local account.
type Identity struct {
	Email       string `toml:"email"`
	FirstName   string `toml:"first_name"`
	LastName    string `toml:"last_name"`
	DisplayName string `toml:"display_name"`
}

// Media holds the object-store credentials for photo/video uploads.
// Uploads are disabled when Endpoint is empty.
type Media struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Config represents the pairmsg config file.
type Config struct {
	DataDir    string   `toml:"data_dir"`
	ListenAddr string   `toml:"listen_addr"`
	Identity   Identity `toml:"identity"`
	Media      Media    `toml:"media"`
}

// DefaultPath returns ~/.pairmsg/config.toml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pairmsg", "config.toml")
}

// Load reads config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		home, _ := os.UserHomeDir()
		cfg.DataDir = filepath.Join(home, ".pairmsg")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:7450"
	}
	if cfg.Identity.DisplayName == "" {
		cfg.Identity.DisplayName = cfg.Identity.FirstName + " " + cfg.Identity.LastName
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// DBPath returns the app-owned database path under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "pairmsg.db")
}

// LogPath returns the daemon log file path under the data dir.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "pairmsgd.log")
}

// Session builds the identity session threaded into engine calls.
func (c *Config) Session() identity.Session {
	return identity.Session{
		Email:       c.Identity.Email,
		FirstName:   c.Identity.FirstName,
		LastName:    c.Identity.LastName,
		DisplayName: c.Identity.DisplayName,
	}
}
