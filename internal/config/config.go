package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Input       InputConfig        `yaml:"input"`
	Logging     LoggingConfig      `yaml:"logging"`
	Output      OutputConfig       `yaml:"output"`
	Reliability *ReliabilityConfig `yaml:"reliability,omitempty"`
	Metrics     *MetricsConfig     `yaml:"metrics,omitempty"`
	Health      *HealthConfig      `yaml:"health,omitempty"`
	Tracing     *TracingConfig     `yaml:"tracing,omitempty"`
}

// InputConfig describes the tailed log file
type InputConfig struct {
	Path           string        `yaml:"path"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	WaitInterval   time.Duration `yaml:"wait_interval"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ReopenOnRotate *bool         `yaml:"reopen_on_rotate,omitempty"`
}

// ReopenEnabled reports whether rotation and truncation are followed
func (c InputConfig) ReopenEnabled() bool {
	return c.ReopenOnRotate == nil || *c.ReopenOnRotate
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// OutputConfig defines the stream sink
type OutputConfig struct {
	Type      string  `yaml:"type"` // redis, kafka, elasticsearch, stdout
	Stream    string  `yaml:"stream"`
	RateLimit float64 `yaml:"rate_limit,omitempty"`

	Redis         *RedisOutputConfig         `yaml:"redis,omitempty"`
	Kafka         *KafkaOutputConfig         `yaml:"kafka,omitempty"`
	Elasticsearch *ElasticsearchOutputConfig `yaml:"elasticsearch,omitempty"`
}

// RedisOutputConfig holds Redis stream configuration
type RedisOutputConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username,omitempty"`
	Password    string        `yaml:"password,omitempty"`
	DB          int           `yaml:"db,omitempty"`
	MaxLen      int64         `yaml:"max_len,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
	EnableTLS   bool          `yaml:"enable_tls,omitempty"`
}

// KafkaOutputConfig holds Kafka-specific configuration
type KafkaOutputConfig struct {
	Brokers          []string `yaml:"brokers"`
	KeyField         string   `yaml:"key_field,omitempty"`
	RequiredAcks     int16    `yaml:"required_acks,omitempty"`
	CompressionCodec string   `yaml:"compression_codec,omitempty"`
	MaxMessageBytes  int      `yaml:"max_message_bytes,omitempty"`
	ClientID         string   `yaml:"client_id,omitempty"`
	Version          string   `yaml:"version,omitempty"`
	EnableTLS        bool     `yaml:"enable_tls,omitempty"`
	SASLEnabled      bool     `yaml:"sasl_enabled,omitempty"`
	SASLMechanism    string   `yaml:"sasl_mechanism,omitempty"`
	SASLUsername     string   `yaml:"sasl_username,omitempty"`
	SASLPassword     string   `yaml:"sasl_password,omitempty"`
}

// ElasticsearchOutputConfig holds Elasticsearch-specific configuration
type ElasticsearchOutputConfig struct {
	Addresses []string `yaml:"addresses"`
	Index     string   `yaml:"index,omitempty"`
	Pipeline  string   `yaml:"pipeline,omitempty"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`
	CloudID   string   `yaml:"cloud_id,omitempty"`
	APIKey    string   `yaml:"api_key,omitempty"`
}

// ReliabilityConfig holds retry configuration for sink appends
type ReliabilityConfig struct {
	Retry *RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig holds retry configuration. MaxRetries of zero fails fast.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	Multiplier     float64       `yaml:"multiplier,omitempty"`
	Jitter         bool          `yaml:"jitter,omitempty"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path,omitempty"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	LivenessPath  string        `yaml:"liveness_path,omitempty"`
	ReadinessPath string        `yaml:"readiness_path,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// Default values
const (
	DefaultLogPath      = "/logs/conn.log"
	DefaultStream       = "zeek:conn"
	DefaultWaitTimeout  = 60 * time.Second
	DefaultWaitInterval = 500 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
	DefaultRedisHost    = "localhost"
	DefaultRedisPort    = 6379
	DefaultOutputType   = "redis"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
	DefaultMetricsAddr  = ":9100"
	DefaultHealthAddr   = ":8081"
)

// Load loads configuration from a YAML file. ${VAR} references are expanded
// before parsing; the environment overlay is applied after defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadOrDefault loads path when given, otherwise starts from Default.
// Either way the environment overlay and validation are applied.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return finish(&Config{})
	}
	return Load(path)
}

// Default returns the default configuration without environment overrides
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()

	if err := FromEnv(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Input.Path == "" {
		c.Input.Path = DefaultLogPath
	}
	if c.Input.WaitTimeout == 0 {
		c.Input.WaitTimeout = DefaultWaitTimeout
	}
	if c.Input.WaitInterval == 0 {
		c.Input.WaitInterval = DefaultWaitInterval
	}
	if c.Input.PollInterval == 0 {
		c.Input.PollInterval = DefaultPollInterval
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Output.Type == "" {
		c.Output.Type = DefaultOutputType
	}
	if c.Output.Stream == "" {
		c.Output.Stream = DefaultStream
	}
	if c.Output.Redis == nil {
		c.Output.Redis = &RedisOutputConfig{}
	}
	if c.Output.Redis.Host == "" {
		c.Output.Redis.Host = DefaultRedisHost
	}
	if c.Output.Redis.Port == 0 {
		c.Output.Redis.Port = DefaultRedisPort
	}
	if c.Output.Redis.DialTimeout == 0 {
		c.Output.Redis.DialTimeout = 5 * time.Second
	}

	if c.Reliability == nil {
		c.Reliability = &ReliabilityConfig{}
	}
	if c.Reliability.Retry == nil {
		c.Reliability.Retry = &RetryConfig{}
	}
	if c.Reliability.Retry.InitialBackoff == 0 {
		c.Reliability.Retry.InitialBackoff = 100 * time.Millisecond
	}
	if c.Reliability.Retry.MaxBackoff == 0 {
		c.Reliability.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Reliability.Retry.Multiplier == 0 {
		c.Reliability.Retry.Multiplier = 2.0
	}

	if c.Metrics != nil {
		if c.Metrics.Address == "" {
			c.Metrics.Address = DefaultMetricsAddr
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	if c.Health != nil {
		if c.Health.Address == "" {
			c.Health.Address = DefaultHealthAddr
		}
		if c.Health.LivenessPath == "" {
			c.Health.LivenessPath = "/health/live"
		}
		if c.Health.ReadinessPath == "" {
			c.Health.ReadinessPath = "/health/ready"
		}
		if c.Health.Timeout == 0 {
			c.Health.Timeout = 5 * time.Second
		}
	}

	if c.Tracing != nil && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Input.Path == "" {
		return fmt.Errorf("input path must be configured")
	}
	if c.Input.WaitTimeout < 0 {
		return fmt.Errorf("input wait_timeout must not be negative")
	}
	if c.Input.WaitInterval <= 0 || c.Input.PollInterval <= 0 {
		return fmt.Errorf("input wait_interval and poll_interval must be positive")
	}

	if c.Output.Stream == "" {
		return fmt.Errorf("output stream must be configured")
	}
	if c.Output.RateLimit < 0 {
		return fmt.Errorf("output rate_limit must not be negative")
	}

	switch c.Output.Type {
	case "redis":
		if c.Output.Redis == nil {
			return fmt.Errorf("redis output requires a redis section")
		}
		if c.Output.Redis.Port <= 0 || c.Output.Redis.Port > 65535 {
			return fmt.Errorf("invalid redis port: %d", c.Output.Redis.Port)
		}
	case "kafka":
		if c.Output.Kafka == nil || len(c.Output.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka output requires at least one broker")
		}
	case "elasticsearch":
		if c.Output.Elasticsearch == nil ||
			(len(c.Output.Elasticsearch.Addresses) == 0 && c.Output.Elasticsearch.CloudID == "") {
			return fmt.Errorf("elasticsearch output requires addresses or cloud_id")
		}
	case "stdout":
	default:
		return fmt.Errorf("invalid output type: %s", c.Output.Type)
	}

	if c.Reliability != nil && c.Reliability.Retry != nil && c.Reliability.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Tracing != nil && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing sample_rate must be within [0, 1]")
	}

	return nil
}
