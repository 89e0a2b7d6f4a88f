package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the pelotonsync application configuration. Board
// definitions live in their own versioned files; this only carries the
// operator-local settings.
type Config struct {
	GitHub GitHubConfig `yaml:"github"`
	Sync   SyncConfig   `yaml:"sync"`
}

// GitHubConfig represents GitHub-specific configuration.
type GitHubConfig struct {
	// Token is the bearer credential. The GITHUB_TOKEN environment
	// variable takes precedence over this.
	Token string `yaml:"token,omitempty"`
}

// SyncConfig represents sync behaviour defaults, overridable per run by
// command flags.
type SyncConfig struct {
	// LogFile is where each cycle's actions are appended.
	LogFile string `yaml:"log_file,omitempty"`

	// IntervalSeconds is the pause between loop cycles.
	IntervalSeconds int `yaml:"interval_seconds,omitempty"`
}

// DefaultLogFile is used when neither the config file nor the --log-file
// flag names one.
const DefaultLogFile = "peloton-sync.log"

// LoadConfig loads configuration from the default location.
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadConfigFromPath(configPath)
}

// LoadConfigFromPath loads configuration from a specific path.
func LoadConfigFromPath(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil // Return empty config if file doesn't exist
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to the default location.
func (c *Config) SaveConfig() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	return c.SaveConfigToPath(configPath)
}

// SaveConfigToPath saves configuration to a specific path.
func (c *Config) SaveConfigToPath(path string) error {
	// Create config directory if it doesn't exist
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path.
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(homeDir, ".pelotonsync", "config.yaml"), nil
}

// LogFile returns the configured log file, or the default.
func (c *Config) LogFile() string {
	if c.Sync.LogFile != "" {
		return c.Sync.LogFile
	}
	return DefaultLogFile
}
