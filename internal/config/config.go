package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for chart-sync.
type Config struct {
	LogDir    string `toml:"log_dir"`
	RecordsDB string `toml:"records_db"`

	// Environments maps environment names (as passed on the command line)
	// to their databases and URLs.
	Environments map[string]EnvironmentConfig `toml:"environments"`

	Publisher PublisherConfig `toml:"publisher"`
	Notify    NotifyConfig    `toml:"notify"`
	Detection DetectionConfig `toml:"detection"`
}

// EnvironmentConfig describes one chart environment.
type EnvironmentConfig struct {
	DBPath string `toml:"db_path"`

	// CreatedAt is the RFC 3339 time the environment was created (for a
	// staging server, when it was spun up from the target). Required for
	// environments used as a diff source.
	CreatedAt string `toml:"created_at,omitempty"`

	AdminURL string `toml:"admin_url,omitempty"`
	SiteURL  string `toml:"site_url,omitempty"`
}

// ParsedCreatedAt parses the environment's creation time.
func (e EnvironmentConfig) ParsedCreatedAt() (time.Time, error) {
	if e.CreatedAt == "" {
		return time.Time{}, fmt.Errorf("created_at not set")
	}
	t, err := time.Parse(time.RFC3339, e.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

// PublisherConfig configures the target admin API client.
type PublisherConfig struct {
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key,omitempty"`
	MaxAttempts       int     `toml:"max_attempts,omitempty"`
	RequestsPerSecond float64 `toml:"requests_per_second,omitempty"`
}

// NotifyConfig configures pending-diff notifications.
type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url,omitempty"`
}

// DetectionConfig configures change detection.
type DetectionConfig struct {
	// DatasetPaths restricts variable-driven detection to variables whose
	// catalog path starts with one of these prefixes. Empty means no
	// restriction.
	DatasetPaths []string `toml:"dataset_paths,omitempty"`

	// MetadataExclude lists regular expressions; metadata-only changes on
	// variables whose catalog path matches one of them are ignored.
	MetadataExclude []string `toml:"metadata_exclude,omitempty"`
}

// NewConfig creates a new Config with default paths under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		LogDir:       filepath.Join(baseDir, "log"),
		RecordsDB:    filepath.Join(baseDir, "records.db"),
		Environments: map[string]EnvironmentConfig{},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
