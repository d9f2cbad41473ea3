package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Duration decodes YAML values like "30s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Paths    PathsConfig    `yaml:"paths"`
	Convert  ConvertConfig  `yaml:"convert"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Database DatabaseConfig `yaml:"database"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxUploadMB     int64    `yaml:"max_upload_mb"`
}

// PathsConfig holds the library and output directories
type PathsConfig struct {
	EbookFolder     string `yaml:"ebook_folder"`
	AudiobookFolder string `yaml:"audiobook_folder"`
	UploadFolder    string `yaml:"upload_folder"`
}

// ConvertConfig holds conversion pipeline configuration
type ConvertConfig struct {
	DefaultVoice  string   `yaml:"default_voice"`
	DefaultSpeed  float64  `yaml:"default_speed"`
	MinSpeed      float64  `yaml:"min_speed"`
	MaxSpeed      float64  `yaml:"max_speed"`
	Bitrate       string   `yaml:"bitrate"`
	MaxActiveJobs int      `yaml:"max_active_jobs"`
	PollInterval  Duration `yaml:"poll_interval"`
	AutoCleanup   bool     `yaml:"auto_cleanup"`
}

// CleanupConfig holds the scheduled sweep configuration.
// Schedule is a standard cron expression; empty disables the sweep.
type CleanupConfig struct {
	Schedule string `yaml:"schedule"`
}

// DatabaseConfig holds the SQLite record store configuration
type DatabaseConfig struct {
	Path         string `yaml:"path"`
	HistoryLimit int    `yaml:"history_limit"`
}

// AMQPConfig holds the optional event publisher configuration
type AMQPConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds AMQP exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds AMQP connection settings
type ConnectionConfig struct {
	RetryAttempts     int      `yaml:"retry_attempts"`
	RetryInterval     Duration `yaml:"retry_interval"`
	Heartbeat         Duration `yaml:"heartbeat"`
	ConnectionTimeout Duration `yaml:"connection_timeout"`
}

// PublishConfig holds AMQP publish retry settings
type PublishConfig struct {
	RetryAttempts     int      `yaml:"retry_attempts"`
	RetryInterval     Duration `yaml:"retry_interval"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file, then applies
// environment overrides.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Convert.DefaultVoice == "" {
		c.Convert.DefaultVoice = "af_sky"
	}
	if c.Convert.DefaultSpeed == 0 {
		c.Convert.DefaultSpeed = 1.0
	}
	if c.Convert.MinSpeed == 0 {
		c.Convert.MinSpeed = 0.5
	}
	if c.Convert.MaxSpeed == 0 {
		c.Convert.MaxSpeed = 2.0
	}
	if c.Convert.Bitrate == "" {
		c.Convert.Bitrate = "64k"
	}
	if c.Convert.PollInterval == 0 {
		c.Convert.PollInterval = Duration(time.Second)
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 500
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/audiblez.db"
	}
	if c.Database.HistoryLimit == 0 {
		c.Database.HistoryLimit = 200
	}
}

// applyEnvOverrides honors the container-style environment knobs
// (PORT, EBOOK_FOLDER, AUDIOBOOK_FOLDER, UPLOAD_FOLDER, AUTO_CLEANUP).
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("EBOOK_FOLDER"); v != "" {
		c.Paths.EbookFolder = v
	}
	if v := os.Getenv("AUDIOBOOK_FOLDER"); v != "" {
		c.Paths.AudiobookFolder = v
	}
	if v := os.Getenv("UPLOAD_FOLDER"); v != "" {
		c.Paths.UploadFolder = v
	}
	if v := os.Getenv("AUTO_CLEANUP"); v != "" {
		c.Convert.AutoCleanup = parseBool(v)
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Paths.EbookFolder == "" {
		return fmt.Errorf("ebook folder is required")
	}

	if c.Paths.AudiobookFolder == "" {
		return fmt.Errorf("audiobook folder is required")
	}

	if c.Paths.UploadFolder == "" {
		return fmt.Errorf("upload folder is required")
	}

	if c.Convert.MinSpeed <= 0 || c.Convert.MaxSpeed < c.Convert.MinSpeed {
		return fmt.Errorf("invalid speed bounds: min %.2f, max %.2f", c.Convert.MinSpeed, c.Convert.MaxSpeed)
	}

	if c.Convert.DefaultSpeed < c.Convert.MinSpeed || c.Convert.DefaultSpeed > c.Convert.MaxSpeed {
		return fmt.Errorf("default speed %.2f outside bounds [%.2f, %.2f]", c.Convert.DefaultSpeed, c.Convert.MinSpeed, c.Convert.MaxSpeed)
	}

	if c.Convert.MaxActiveJobs < 0 {
		return fmt.Errorf("max_active_jobs must not be negative")
	}

	if c.Convert.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be greater than 0")
	}

	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be greater than 0")
	}

	if c.Database.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must not be negative")
	}

	if c.AMQP.Enabled {
		if c.AMQP.Host == "" {
			return fmt.Errorf("amqp host is required when amqp is enabled")
		}

		if c.AMQP.Port < MinPort || c.AMQP.Port > MaxPort {
			return fmt.Errorf("invalid amqp port: %d (must be between %d and %d)", c.AMQP.Port, MinPort, MaxPort)
		}

		if c.AMQP.Exchange.Name == "" {
			return fmt.Errorf("amqp exchange name is required when amqp is enabled")
		}
	}

	return nil
}
