package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary directory for testing
	tempDir := t.TempDir()

	// Create test config file
	configPath := filepath.Join(tempDir, "config.yaml")
	configContent := `github:
  token: "ghp_test_token"
sync:
  log_file: "/var/log/peloton-sync.log"
  interval_seconds: 30
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	// Load config
	config, err := LoadConfigFromPath(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify GitHub config values
	if config.GitHub.Token != "ghp_test_token" {
		t.Errorf("Expected GitHub Token = ghp_test_token, got %s", config.GitHub.Token)
	}

	// Verify sync config values
	if config.Sync.LogFile != "/var/log/peloton-sync.log" {
		t.Errorf("Expected LogFile = /var/log/peloton-sync.log, got %s", config.Sync.LogFile)
	}

	if config.Sync.IntervalSeconds != 30 {
		t.Errorf("Expected IntervalSeconds = 30, got %d", config.Sync.IntervalSeconds)
	}
}

func TestLoadConfigNonExistent(t *testing.T) {
	// Test loading non-existent config file
	config, err := LoadConfigFromPath("/non/existent/path")
	if err != nil {
		t.Fatalf("Expected no error for non-existent config, got: %v", err)
	}

	// Should return empty config
	if config.GitHub.Token != "" {
		t.Error("Expected empty token for non-existent config")
	}
}

func TestSaveConfig(t *testing.T) {
	// Create a temporary directory for testing
	tempDir := t.TempDir()

	configPath := filepath.Join(tempDir, "config.yaml")

	// Create and save config
	config := &Config{
		GitHub: GitHubConfig{
			Token: "ghp_save_test_token",
		},
		Sync: SyncConfig{
			LogFile:         "board.log",
			IntervalSeconds: 90,
		},
	}

	err := config.SaveConfigToPath(configPath)
	if err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	// Load and verify saved config
	loadedConfig, err := LoadConfigFromPath(configPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if loadedConfig.GitHub.Token != config.GitHub.Token {
		t.Errorf("Expected GitHub Token = %s, got %s", config.GitHub.Token, loadedConfig.GitHub.Token)
	}

	if loadedConfig.Sync.LogFile != config.Sync.LogFile {
		t.Errorf("Expected LogFile = %s, got %s", config.Sync.LogFile, loadedConfig.Sync.LogFile)
	}

	if loadedConfig.Sync.IntervalSeconds != config.Sync.IntervalSeconds {
		t.Errorf("Expected IntervalSeconds = %d, got %d", config.Sync.IntervalSeconds, loadedConfig.Sync.IntervalSeconds)
	}
}

func TestGetConfigPath(t *testing.T) {
	path, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() failed: %v", err)
	}

	if path == "" {
		t.Error("GetConfigPath() returned empty path")
	}

	if !filepath.IsAbs(path) {
		t.Error("GetConfigPath() should return absolute path")
	}

	if filepath.Base(filepath.Dir(path)) != ".pelotonsync" {
		t.Errorf("Expected config under .pelotonsync, got %s", path)
	}
}

func TestLogFile(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name:   "default when unset",
			config: Config{},
			want:   DefaultLogFile,
		},
		{
			name: "configured value wins",
			config: Config{
				Sync: SyncConfig{LogFile: "custom.log"},
			},
			want: "custom.log",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.LogFile(); got != tt.want {
				t.Errorf("LogFile() = %s, want %s", got, tt.want)
			}
		})
	}
}
