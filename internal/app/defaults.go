package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CHART_SYNC_CONFIG_PATH: config file location (default: ~/.config/chart-sync.toml)
//   - CHART_SYNC_HOME: base directory for chart-sync data (default: ~/.local/share/chart-sync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"records_db":  filepath.Join(baseDir, "records.db"),
	}, nil
}

// getConfigPath returns the config file path, checking CHART_SYNC_CONFIG_PATH
// env var first, then falling back to the default ~/.config/chart-sync.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("CHART_SYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "chart-sync.toml"), nil
}

// getBaseDir returns the base directory for chart-sync data, checking
// CHART_SYNC_HOME env var first, then falling back to the XDG default
// ~/.local/share/chart-sync.
func getBaseDir() (string, error) {
	if path := os.Getenv("CHART_SYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "chart-sync"), nil
}
