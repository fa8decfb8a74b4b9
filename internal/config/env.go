package config

import (
	"fmt"
	"os"
	"strconv"
)

// FromEnv overlays environment variables onto cfg. REDIS_HOST and REDIS_PORT
// keep the names existing deployments already set.
func FromEnv(cfg *Config) error {
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Output.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_PORT: %w", err)
		}
		cfg.Output.Redis.Port = port
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Output.Redis.Password = v
	}
	if v := os.Getenv("LOGBRIDGE_LOG_PATH"); v != "" {
		cfg.Input.Path = v
	}
	if v := os.Getenv("LOGBRIDGE_STREAM"); v != "" {
		cfg.Output.Stream = v
	}
	if v := os.Getenv("LOGBRIDGE_OUTPUT"); v != "" {
		cfg.Output.Type = v
	}
	if v := os.Getenv("LOGBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOGBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}
