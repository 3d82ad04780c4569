package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Load loads the configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Check current directory first
		v.AddConfigPath(".")

		// Check home directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".unpackd"))
		}

		// Check /etc
		v.AddConfigPath("/etc/unpackd/")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// qBittorrent defaults
	v.SetDefault("qbittorrent.url", "http://localhost:8080")

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "15s")
	v.SetDefault("monitor.debounce", "5s")
	v.SetDefault("monitor.stability_interval", "2s")
	v.SetDefault("monitor.max_failed_polls", 20)

	// Extraction defaults
	v.SetDefault("extraction.seven_zip_path", "7z")
	v.SetDefault("extraction.create_subfolder", true)
	v.SetDefault("extraction.delete_archives", false)
	v.SetDefault("extraction.timeout", "30m")
	v.SetDefault("extraction.max_parallel", 2)
	v.SetDefault("extraction.grace_timeout", "30s")

	// Filter defaults
	v.SetDefault("filter.expression", "true")

	// Database defaults
	v.SetDefault("database.path", "unpackd.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if cfg.QBittorrent.URL == "" {
		return fmt.Errorf("qbittorrent.url is required")
	}

	if cfg.Monitor.Path == "" {
		return fmt.Errorf("monitor.path is required")
	}

	if cfg.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}

	if cfg.Monitor.MaxFailedPolls <= 0 {
		return fmt.Errorf("monitor.max_failed_polls must be positive")
	}

	if cfg.Extraction.MaxParallel < 1 {
		return fmt.Errorf("extraction.max_parallel must be at least 1")
	}

	for _, instance := range cfg.Arr {
		if !instance.Enabled {
			continue
		}
		if instance.Type != "radarr" && instance.Type != "sonarr" {
			return fmt.Errorf("invalid arr type: %s (must be 'radarr' or 'sonarr')", instance.Type)
		}
		if instance.URL == "" || instance.APIKey == "" {
			return fmt.Errorf("arr instance %s requires url and api_key", instance.Name)
		}
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"console": true,
		"json":    true,
	}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}
