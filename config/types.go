package config

import "time"

// Config represents the complete configuration structure
type Config struct {
	QBittorrent QBittorrentConfig `mapstructure:"qbittorrent"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
	Filter      FilterConfig      `mapstructure:"filter"`
	Arr         []ArrConfig       `mapstructure:"arr"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// QBittorrentConfig holds qBittorrent Web API connection details
type QBittorrentConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MonitorConfig controls discovery of completed downloads
type MonitorConfig struct {
	Path              string        `mapstructure:"path"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	Debounce          time.Duration `mapstructure:"debounce"`
	StabilityInterval time.Duration `mapstructure:"stability_interval"`
	MaxFailedPolls    int           `mapstructure:"max_failed_polls"`
}

// ExtractionConfig controls the external extractor and its outputs
type ExtractionConfig struct {
	SevenZipPath    string        `mapstructure:"seven_zip_path"`
	CreateSubfolder bool          `mapstructure:"create_subfolder"`
	DeleteArchives  bool          `mapstructure:"delete_archives"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	GraceTimeout    time.Duration `mapstructure:"grace_timeout"`
}

// FilterConfig selects which completed torrents are unpacked
type FilterConfig struct {
	Expression string `mapstructure:"expression"`
}

// ArrConfig holds one Sonarr/Radarr instance to notify after extraction
type ArrConfig struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"`
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
	Enabled bool   `mapstructure:"enabled"`
}

// DatabaseConfig holds job store settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}
