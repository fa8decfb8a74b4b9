package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
input:
  path: /var/log/zeek/conn.log
  wait_timeout: 10s
  poll_interval: 250ms
  reopen_on_rotate: false

logging:
  level: debug
  format: json

output:
  type: kafka
  stream: zeek.conn
  rate_limit: 500
  kafka:
    brokers:
      - kafka-1:9092
      - kafka-2:9092
    key_field: uid

reliability:
  retry:
    max_retries: 5

metrics:
  enabled: true
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Input.Path != "/var/log/zeek/conn.log" {
		t.Errorf("Expected input path /var/log/zeek/conn.log, got %s", cfg.Input.Path)
	}
	if cfg.Input.WaitTimeout != 10*time.Second {
		t.Errorf("Expected wait timeout 10s, got %v", cfg.Input.WaitTimeout)
	}
	if cfg.Input.PollInterval != 250*time.Millisecond {
		t.Errorf("Expected poll interval 250ms, got %v", cfg.Input.PollInterval)
	}
	if cfg.Input.WaitInterval != DefaultWaitInterval {
		t.Errorf("Expected default wait interval, got %v", cfg.Input.WaitInterval)
	}
	if cfg.Input.ReopenEnabled() {
		t.Error("Expected reopen_on_rotate to be disabled")
	}
	if cfg.Output.Type != "kafka" || cfg.Output.Stream != "zeek.conn" {
		t.Errorf("Unexpected output %s/%s", cfg.Output.Type, cfg.Output.Stream)
	}
	if len(cfg.Output.Kafka.Brokers) != 2 {
		t.Errorf("Expected 2 brokers, got %d", len(cfg.Output.Kafka.Brokers))
	}
	if cfg.Reliability.Retry.MaxRetries != 5 {
		t.Errorf("Expected 5 retries, got %d", cfg.Reliability.Retry.MaxRetries)
	}
	if cfg.Metrics.Address != DefaultMetricsAddr || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Expected metrics defaults, got %s%s", cfg.Metrics.Address, cfg.Metrics.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: ${LOG_LEVEL}
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level warn (from env var), got %s", cfg.Logging.Level)
	}
}

func TestLoadOrDefault(t *testing.T) {
	for _, key := range []string{"REDIS_HOST", "REDIS_PORT", "LOGBRIDGE_LOG_PATH", "LOGBRIDGE_STREAM", "LOGBRIDGE_OUTPUT"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}

	if cfg.Input.Path != DefaultLogPath {
		t.Errorf("Expected default path %s, got %s", DefaultLogPath, cfg.Input.Path)
	}
	if cfg.Output.Stream != DefaultStream {
		t.Errorf("Expected default stream %s, got %s", DefaultStream, cfg.Output.Stream)
	}
	if cfg.Input.WaitTimeout != 60*time.Second {
		t.Errorf("Expected 60s wait timeout, got %v", cfg.Input.WaitTimeout)
	}
	if cfg.Output.Redis.Host != "localhost" || cfg.Output.Redis.Port != 6379 {
		t.Errorf("Expected localhost:6379, got %s:%d", cfg.Output.Redis.Host, cfg.Output.Redis.Port)
	}
	if cfg.Reliability.Retry.MaxRetries != 0 {
		t.Errorf("Expected fail-fast default, got %d retries", cfg.Reliability.Retry.MaxRetries)
	}
	if !cfg.Input.ReopenEnabled() {
		t.Error("Expected rotation following by default")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("LOGBRIDGE_STREAM", "zeek:dns")
	t.Setenv("LOGBRIDGE_LOG_PATH", "/logs/dns.log")

	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}

	if cfg.Output.Redis.Host != "redis.internal" {
		t.Errorf("Expected host from env, got %s", cfg.Output.Redis.Host)
	}
	if cfg.Output.Redis.Port != 6380 {
		t.Errorf("Expected port 6380, got %d", cfg.Output.Redis.Port)
	}
	if cfg.Output.Stream != "zeek:dns" {
		t.Errorf("Expected stream zeek:dns, got %s", cfg.Output.Stream)
	}
	if cfg.Input.Path != "/logs/dns.log" {
		t.Errorf("Expected path /logs/dns.log, got %s", cfg.Input.Path)
	}
}

func TestFromEnvInvalidPort(t *testing.T) {
	t.Setenv("REDIS_PORT", "not-a-port")

	if _, err := LoadOrDefault(""); err == nil {
		t.Error("Expected error for invalid REDIS_PORT")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid default",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "stdout output",
			mutate:  func(c *Config) { c.Output.Type = "stdout" },
			wantErr: false,
		},
		{
			name:    "unknown output",
			mutate:  func(c *Config) { c.Output.Type = "s3" },
			wantErr: true,
		},
		{
			name:    "kafka without brokers",
			mutate:  func(c *Config) { c.Output.Type = "kafka" },
			wantErr: true,
		},
		{
			name: "elasticsearch with address",
			mutate: func(c *Config) {
				c.Output.Type = "elasticsearch"
				c.Output.Elasticsearch = &ElasticsearchOutputConfig{Addresses: []string{"http://es:9200"}}
			},
			wantErr: false,
		},
		{
			name:    "redis port out of range",
			mutate:  func(c *Config) { c.Output.Redis.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Reliability.Retry.MaxRetries = -1 },
			wantErr: true,
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.Output.RateLimit = -1 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "invalid" },
			wantErr: true,
		},
		{
			name:    "tracing sample rate above one",
			mutate:  func(c *Config) { c.Tracing = &TracingConfig{Enabled: true, SampleRate: 2} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
