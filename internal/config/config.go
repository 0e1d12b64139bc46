// Package config handles configuration loading for agent-sentinel.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agent-sentinel/internal/kafka"
	"agent-sentinel/internal/storage"
	"agent-sentinel/internal/storage/s3"
)

// Config holds the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Detection DetectionConfig `yaml:"detection"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// BufferConfig holds ingestion buffer settings.
type BufferConfig struct {
	Capacity int `yaml:"capacity"`
}

// DetectionConfig holds detection engine settings.
type DetectionConfig struct {
	ConfidenceThreshold  float64       `yaml:"confidence_threshold"`
	ScanMetadata         bool          `yaml:"scan_metadata"`
	ModelAnalysisEnabled bool          `yaml:"model_analysis_enabled"`
	ModelEndpoint        string        `yaml:"model_endpoint"`
	ModelAPIKey          string        `yaml:"model_api_key"`
	ModelTimeout         time.Duration `yaml:"model_timeout"`
	ModelAttempts        int           `yaml:"model_attempts"`
}

// AlertingConfig holds alert manager and channel settings.
type AlertingConfig struct {
	CooldownMinutes           int           `yaml:"cooldown_minutes"`
	MaxAlertsPerHourPerSource int           `yaml:"max_alerts_per_hour_per_source"`
	Webhook                   WebhookConfig `yaml:"webhook"`
	Slack                     SlackConfig   `yaml:"slack"`
	Redis                     RedisConfig   `yaml:"redis"`
}

// WebhookConfig holds webhook channel settings.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// SlackConfig holds Slack channel settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// RedisConfig holds Redis publisher settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig holds HTTP rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"`
	WindowSize    time.Duration `yaml:"window_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	Enabled    bool                     `yaml:"enabled"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
	Batch      storage.BatchConfig      `yaml:"batch"`
	Retention  storage.RetentionConfig  `yaml:"retention"`
	Archive    ArchiveConfig            `yaml:"archive"`
}

// ArchiveConfig holds S3 archive settings.
type ArchiveConfig struct {
	Enabled bool       `yaml:"enabled"`
	S3      *s3.Config `yaml:"s3"`
}

// KafkaConfig holds Kafka source settings.
type KafkaConfig struct {
	Enabled bool          `yaml:"enabled"`
	Source  *kafka.Config `yaml:"source"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Buffer: BufferConfig{
			Capacity: 1000,
		},
		Detection: DetectionConfig{
			ConfidenceThreshold:  0.5,
			ScanMetadata:         true,
			ModelAnalysisEnabled: false,
			ModelTimeout:         5 * time.Second,
			ModelAttempts:        2,
		},
		Alerting: AlertingConfig{
			CooldownMinutes:           5,
			MaxAlertsPerHourPerSource: 100,
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Channel: "sentinel.alerts",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 300,
			WindowSize:    time.Minute,
			CleanupPeriod: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			ClickHouse: storage.DefaultClickHouseConfig(),
			Batch:      storage.DefaultBatchConfig(),
			Retention:  storage.DefaultRetentionConfig(),
			Archive: ArchiveConfig{
				S3: s3.DefaultConfig(),
			},
		},
		Kafka: KafkaConfig{
			Source: kafka.DefaultConfig(),
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SENTINEL_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SENTINEL_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}
	if level := os.Getenv("SENTINEL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if apiKey := os.Getenv("SENTINEL_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	if threshold := os.Getenv("SENTINEL_CONFIDENCE_THRESHOLD"); threshold != "" {
		fmt.Sscanf(threshold, "%f", &c.Detection.ConfidenceThreshold)
	}
	if enabled := os.Getenv("SENTINEL_MODEL_ENABLED"); enabled == "true" {
		c.Detection.ModelAnalysisEnabled = true
	}
	if endpoint := os.Getenv("SENTINEL_MODEL_ENDPOINT"); endpoint != "" {
		c.Detection.ModelEndpoint = endpoint
	}
	if key := os.Getenv("SENTINEL_MODEL_API_KEY"); key != "" {
		c.Detection.ModelAPIKey = key
	}

	if capacity := os.Getenv("SENTINEL_BUFFER_CAPACITY"); capacity != "" {
		fmt.Sscanf(capacity, "%d", &c.Buffer.Capacity)
	}
	if cooldown := os.Getenv("SENTINEL_COOLDOWN_MINUTES"); cooldown != "" {
		fmt.Sscanf(cooldown, "%d", &c.Alerting.CooldownMinutes)
	}
	if limit := os.Getenv("SENTINEL_MAX_ALERTS_PER_HOUR"); limit != "" {
		fmt.Sscanf(limit, "%d", &c.Alerting.MaxAlertsPerHourPerSource)
	}

	if enabled := os.Getenv("SENTINEL_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if enabled := os.Getenv("SENTINEL_KAFKA_ENABLED"); enabled == "true" {
		c.Kafka.Enabled = true
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Source.Brokers = splitAndTrim(brokers, ",")
	}

	if addr := os.Getenv("SENTINEL_REDIS_ADDR"); addr != "" {
		c.Alerting.Redis.Addr = addr
		c.Alerting.Redis.Enabled = true
	}
}

func splitAndTrim(s, sep string) []string {
	var parts []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration. Failures here are fatal at
// startup.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Buffer.Capacity <= 0 {
		return fmt.Errorf("buffer capacity must be positive")
	}
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %v outside [0,1]", c.Detection.ConfidenceThreshold)
	}
	if c.Detection.ModelAnalysisEnabled && c.Detection.ModelEndpoint == "" {
		return fmt.Errorf("model_endpoint is required when model analysis is enabled")
	}
	if c.Alerting.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes must not be negative")
	}
	if c.Alerting.MaxAlertsPerHourPerSource <= 0 {
		return fmt.Errorf("max_alerts_per_hour_per_source must be positive")
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Source.Validate(); err != nil {
			return err
		}
	}
	if c.Storage.Enabled && c.Storage.Archive.Enabled {
		if err := c.Storage.Archive.S3.Validate(); err != nil {
			return err
		}
	}
	return nil
}
