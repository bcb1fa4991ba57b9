package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "buildhive.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "BUILDHIVE_PORT")
	setString(&cfg.Server.CORSOrigin, "BUILDHIVE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "BUILDHIVE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "BUILDHIVE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "BUILDHIVE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "BUILDHIVE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "BUILDHIVE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LLM.URL, "BUILDHIVE_LLM_URL")
	setString(&cfg.LLM.APIKey, "BUILDHIVE_LLM_API_KEY")
	setString(&cfg.LLM.Model, "BUILDHIVE_LLM_MODEL")
	setInt(&cfg.LLM.MaxTokens, "BUILDHIVE_LLM_MAX_TOKENS")
	setDuration(&cfg.LLM.RequestTimeout, "BUILDHIVE_LLM_TIMEOUT")
	setString(&cfg.Logging.Level, "BUILDHIVE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "BUILDHIVE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "BUILDHIVE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "BUILDHIVE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "BUILDHIVE_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxCostBytes, "BUILDHIVE_CACHE_MAX_COST_BYTES")
	setDuration(&cfg.Cache.SettingsTTL, "BUILDHIVE_CACHE_SETTINGS_TTL")
	setInt(&cfg.Jobs.MaxErrors, "BUILDHIVE_JOB_MAX_ERRORS")
	setDuration(&cfg.Jobs.TaskTimeout, "BUILDHIVE_JOB_TASK_TIMEOUT")
	setInt(&cfg.Jobs.FileContextLimit, "BUILDHIVE_JOB_FILE_CONTEXT_LIMIT")
	setInt(&cfg.Jobs.ListLimit, "BUILDHIVE_JOB_LIST_LIMIT")
	setBool(&cfg.Telemetry.Enabled, "BUILDHIVE_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "BUILDHIVE_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.LLM.URL == "" {
		return errors.New("llm.url is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Jobs.MaxErrors < 1 {
		return errors.New("jobs.max_errors must be >= 1")
	}
	if cfg.Jobs.TaskTimeout <= 0 {
		return errors.New("jobs.task_timeout must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
