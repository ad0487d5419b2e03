package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the credential file the CLI reads and writes. The API key is a
// bearer credential, so the file is created owner-readable only.
type Config struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// DefaultConfigPath returns ~/.moltgrid/config.json.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("client: failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".moltgrid", "config.json"), nil
}

// LoadConfig reads the config file at path. A missing file is not an error:
// it returns an empty Config so first-run flows work without setup.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("client: failed to read config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("client: corrupted config file %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the config atomically via temp file + rename, so a crash
// mid-write never truncates stored credentials.
func SaveConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("client: failed to marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("client: failed to create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("client: failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("client: failed to replace config: %w", err)
	}
	return nil
}

// ResolveAPIKey returns the key to authenticate with: the MOLTGRID_API_KEY
// environment variable wins over the config file.
func ResolveAPIKey(cfg Config) string {
	if key := os.Getenv("MOLTGRID_API_KEY"); key != "" {
		return key
	}
	return cfg.APIKey
}
