package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for a harvesting run
type Config struct {
	// Batch scope and defaults
	Batch BatchConfig `yaml:"batch" json:"batch"`

	// Category source parsing
	Source SourceConfig `yaml:"source" json:"source"`

	// Search engine access
	Search SearchConfig `yaml:"search" json:"search"`

	// Image download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Delay between categories
	Pacing PacingConfig `yaml:"pacing" json:"pacing"`

	// Category-level retry
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BatchConfig holds the per-run parameters
type BatchConfig struct {
	ImagesPerCategory int    `yaml:"images_per_category" json:"images_per_category"`
	Engine            string `yaml:"engine" json:"engine"`
	Mode              string `yaml:"mode" json:"mode"`
	Workers           int    `yaml:"workers" json:"workers"`
}

// SourceConfig controls how the category file is read
type SourceConfig struct {
	HeaderMarkers []string `yaml:"header_markers" json:"header_markers"`
}

// SearchConfig holds search engine configuration
type SearchConfig struct {
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	QueryTemplate     string        `yaml:"query_template" json:"query_template"`
	BingURL           string        `yaml:"bing_url" json:"bing_url"`
	GoogleURL         string        `yaml:"google_url" json:"google_url"`
	MaxPages          int           `yaml:"max_pages" json:"max_pages"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	SafeSearch        string        `yaml:"safe_search" json:"safe_search"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
	RetryAttempts       int           `yaml:"retry_attempts" json:"retry_attempts"`
	RequestsPerMinute   int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	Limiter             string        `yaml:"limiter" json:"limiter"`
	MinFileSize         int64         `yaml:"min_file_size" json:"min_file_size"`
	MaxFileSize         int64         `yaml:"max_file_size" json:"max_file_size"`
}

// PacingConfig holds the inter-category delay
type PacingConfig struct {
	MinDelay   time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
	Adaptive   bool          `yaml:"adaptive" json:"adaptive"`
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// RetryConfig holds category-level retry settings. MaxAttempts of 1 disables retry.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Strategy    string        `yaml:"strategy" json:"strategy"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// OutputConfig holds output directory and report configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	ReportFormat  string `yaml:"report_format" json:"report_format"`
	ReportFile    string `yaml:"report_file" json:"report_file"`
}

// CheckpointConfig controls resumable runs
type CheckpointConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	OnComplete       bool   `yaml:"on_complete" json:"on_complete"`
	OnError          bool   `yaml:"on_error" json:"on_error"`
	NotificationType string `yaml:"notification_type" json:"notification_type"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Batch: BatchConfig{
			ImagesPerCategory: 50,
			Engine:            "bing",
			Workers:           1,
		},
		Source: SourceConfig{
			HeaderMarkers: []string{"DISEASE COUNT", "Total rows", "Unique diseases"},
		},
		Search: SearchConfig{
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			BingURL:           "https://www.bing.com/images/async",
			GoogleURL:         "https://www.googleapis.com/customsearch/v1",
			MaxPages:          10,
			RequestTimeout:    30 * time.Second,
			RequestsPerMinute: 30,
			SafeSearch:        "moderate",
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 4,
			DownloadTimeout:     30 * time.Second,
			RetryAttempts:       2,
			RequestsPerMinute:   240,
			Limiter:             "token_bucket",
			MinFileSize:         2048,
			MaxFileSize:         0, // 0 means no limit
		},
		Pacing: PacingConfig{
			MinDelay:   2 * time.Second,
			MaxDelay:   5 * time.Second,
			Adaptive:   true,
			MaxBackoff: 2 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts: 1,
			Strategy:    "exponential",
			BaseDelay:   10 * time.Second,
			MaxDelay:    time.Minute,
		},
		Output: OutputConfig{
			BaseDirectory: "scraped_images",
			ReportFormat:  "table",
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
		},
		Notifications: NotificationConfig{
			Enabled:          false,
			OnComplete:       true,
			OnError:          true,
			NotificationType: "terminal",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	envInt := func(name string, dst *int) {
		if raw := os.Getenv(name); raw != "" {
			var val int
			if _, err := fmt.Sscanf(raw, "%d", &val); err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", name, raw))
				return
			}
			*dst = val
		}
	}
	envDuration := func(name string, dst *time.Duration) {
		if raw := os.Getenv(name); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	envString := func(name string, dst *string) {
		if raw := os.Getenv(name); raw != "" {
			*dst = raw
		}
	}

	envInt("IMGHARVEST_IMAGES_PER_CATEGORY", &c.Batch.ImagesPerCategory)
	envString("IMGHARVEST_ENGINE", &c.Batch.Engine)
	envString("IMGHARVEST_MODE", &c.Batch.Mode)
	envInt("IMGHARVEST_WORKERS", &c.Batch.Workers)

	envString("IMGHARVEST_USER_AGENT", &c.Search.UserAgent)
	envInt("IMGHARVEST_SEARCH_REQUESTS_PER_MINUTE", &c.Search.RequestsPerMinute)

	envInt("IMGHARVEST_CONCURRENT_DOWNLOADS", &c.Download.ConcurrentDownloads)

	envDuration("IMGHARVEST_DELAY_MIN", &c.Pacing.MinDelay)
	envDuration("IMGHARVEST_DELAY_MAX", &c.Pacing.MaxDelay)
	envInt("IMGHARVEST_RETRIES", &c.Retry.MaxAttempts)

	envString("IMGHARVEST_OUTPUT_DIR", &c.Output.BaseDirectory)
	envString("IMGHARVEST_REPORT_FORMAT", &c.Output.ReportFormat)
	envString("IMGHARVEST_REPORT_FILE", &c.Output.ReportFile)

	envString("IMGHARVEST_METRICS_ADDR", &c.Metrics.Addr)

	if notifEnabled := os.Getenv("IMGHARVEST_NOTIFICATIONS_ENABLED"); notifEnabled != "" {
		c.Notifications.Enabled = strings.ToLower(notifEnabled) == "true"
	}

	envString("IMGHARVEST_LOG_LEVEL", &c.Logging.Level)
	envString("IMGHARVEST_LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"imgharvest.yaml",
		".imgharvest.yaml",
		".imgharvest.yml",
		filepath.Join(home, ".config", "imgharvest", "config.yaml"),
		filepath.Join(home, ".config", "imgharvest", "config.yml"),
		filepath.Join(home, ".imgharvest.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Batch.ImagesPerCategory <= 0 {
		errs = append(errs, errors.New("images per category must be positive"))
	}
	switch strings.ToLower(c.Batch.Engine) {
	case "bing", "google", "primary", "secondary":
	default:
		errs = append(errs, fmt.Errorf("unknown search engine %q", c.Batch.Engine))
	}
	if c.Batch.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}

	if c.Search.MaxPages <= 0 {
		errs = append(errs, errors.New("search max pages must be positive"))
	}
	if c.Search.RequestTimeout <= 0 {
		errs = append(errs, errors.New("search request timeout must be positive"))
	}
	if c.Search.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("search requests per minute must be positive"))
	}
	if c.Search.QueryTemplate != "" && !strings.Contains(c.Search.QueryTemplate, "{name}") {
		errs = append(errs, errors.New("query template must contain {name}"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 16 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 16"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.RetryAttempts < 0 {
		errs = append(errs, errors.New("download retry attempts cannot be negative"))
	}
	if c.Download.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("download requests per minute must be positive"))
	}
	if c.Download.MaxFileSize > 0 && c.Download.MaxFileSize < c.Download.MinFileSize {
		errs = append(errs, errors.New("max file size is below min file size"))
	}
	switch c.Download.Limiter {
	case "", "token_bucket", "sliding_window":
	default:
		errs = append(errs, fmt.Errorf("unknown download limiter %q", c.Download.Limiter))
	}

	// Pacing is mandatory between categories
	if c.Pacing.MinDelay <= 0 {
		errs = append(errs, errors.New("pacing min delay must be positive"))
	}
	if c.Pacing.MaxDelay < c.Pacing.MinDelay {
		errs = append(errs, errors.New("pacing max delay must not be below min delay"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	switch c.Retry.Strategy {
	case "", "exponential", "linear", "constant":
	default:
		errs = append(errs, fmt.Errorf("unknown retry strategy %q", c.Retry.Strategy))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	switch strings.ToLower(c.Output.ReportFormat) {
	case "table", "json", "yaml":
	default:
		errs = append(errs, fmt.Errorf("invalid report format %q", c.Output.ReportFormat))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	validNotifTypes := map[string]bool{
		"terminal": true, "desktop": true, "none": true,
	}
	if !validNotifTypes[strings.ToLower(c.Notifications.NotificationType)] {
		errs = append(errs, errors.New("invalid notification type"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only flags the user actually set should be present in the map.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["limit"].(int); ok && v > 0 {
		c.Batch.ImagesPerCategory = v
	}
	if v, ok := flags["engine"].(string); ok && v != "" {
		c.Batch.Engine = v
	}
	if v, ok := flags["mode"].(string); ok && v != "" {
		c.Batch.Mode = v
	}
	if v, ok := flags["workers"].(int); ok && v > 0 {
		c.Batch.Workers = v
	}
	if v, ok := flags["concurrent"].(int); ok && v > 0 {
		c.Download.ConcurrentDownloads = v
	}
	if v, ok := flags["delay-min"].(time.Duration); ok && v > 0 {
		c.Pacing.MinDelay = v
	}
	if v, ok := flags["delay-max"].(time.Duration); ok && v > 0 {
		c.Pacing.MaxDelay = v
	}
	if v, ok := flags["retries"].(int); ok && v > 0 {
		c.Retry.MaxAttempts = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.BaseDirectory = v
	}
	if v, ok := flags["report-format"].(string); ok && v != "" {
		c.Output.ReportFormat = v
	}
	if v, ok := flags["report-file"].(string); ok && v != "" {
		c.Output.ReportFile = v
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.Addr = v
	}
	if v, ok := flags["notify"].(bool); ok {
		c.Notifications.Enabled = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".imgharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
