// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// RepositoryConfig holds the per-repository flags. It is persisted with the
// branch table and handed to the metadata engine explicitly.
type RepositoryConfig struct {
	Strict   bool   `json:"strict"`   // always rehash, never trust an unchanged mtime
	Compress bool   `json:"compress"` // zstd-compress stored blobs
	Track    bool   `json:"track"`    // only paths matching the branch patterns are versioned
	Backend  string `json:"backend"`  // file, badger
}

func (c RepositoryConfig) Validate() error {
	switch c.Backend {
	case BackendFile, BackendBadger:
		return nil
	default:
		return fmt.Errorf("unknown metadata backend %q", c.Backend)
	}
}

// Config is the user level configuration file.
type Config struct {
	LogLevel  string           `json:"log_level"` // debug, info, warn, error
	CacheSize int              `json:"cache_size"`
	Ignores   []string         `json:"ignores"`
	Defaults  RepositoryConfig `json:"defaults"`
}

func Default() *Config {
	return &Config{
		LogLevel:  "warn",
		CacheSize: 256,
		Ignores:   []string{".git/**", ".svn/**", ".hg/**"},
		Defaults: RepositoryConfig{
			Backend: BackendFile,
		},
	}
}

// Path returns the config file location: SOS_CONFIG if set, else ~/.sos.json.
func Path() string {
	if p := os.Getenv("SOS_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sos.json"
	}
	return filepath.Join(home, ".sos.json")
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	config := Default()

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if config.Defaults.Backend == "" {
		config.Defaults.Backend = BackendFile
	}
	if err := config.Defaults.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func Save(path string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
