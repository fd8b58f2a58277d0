// Package config loads the pmbus configuration file.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

// Config is the root of pmbus.yaml.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	Reclaim    ReclaimConfig    `yaml:"reclaim"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Notify     NotifyConfig     `yaml:"notify"`
	LLM        LLMConfig        `yaml:"llm"`
}

// StoreConfig selects and configures the log store.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"` // memory|redis|sqlite
	MaxLen  int64        `yaml:"max_len"` // approximate per-stream bound
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig configures the Redis Streams backend.
type RedisConfig struct {
	URL        string        `yaml:"url,omitempty"` // falls back to $REDIS_URL
	Address    string        `yaml:"address"`
	Password   string        `yaml:"password,omitempty"`
	DB         int           `yaml:"db"`
	KeyPrefix  string        `yaml:"key_prefix,omitempty"`
	PoolSize   int           `yaml:"pool_size"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"` // dial/read/write
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SubscriberConfig configures the consume loop.
type SubscriberConfig struct {
	Group    string        `yaml:"group,omitempty"`    // defaults to "<service>-service"
	Consumer string        `yaml:"consumer,omitempty"` // defaults to the hostname
	Count    int64         `yaml:"count"`
	Block    time.Duration `yaml:"block"`
	StartID  string        `yaml:"start_id"`
	Backoff  BackoffConfig `yaml:"backoff"`
}

// BackoffConfig shapes the sleep after a failed read.
type BackoffConfig struct {
	Mode    RetryBackoffMode `yaml:"mode"`
	Initial time.Duration    `yaml:"initial"`
	Max     time.Duration    `yaml:"max"`
}

// ReclaimConfig configures the redelivery sweep.
type ReclaimConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	MinIdle       time.Duration `yaml:"min_idle"`
	MaxDeliveries int64         `yaml:"max_deliveries"`
	Batch         int64         `yaml:"batch"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// MetricsConfig configures the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// NotifyConfig configures the NATS JetStream relay.
type NotifyConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Timeout       time.Duration `yaml:"timeout"`
}

// LLMConfig configures the completion endpoint used by the insights worker.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key,omitempty"` // falls back to $OPENAI_API_KEY
	Model       string        `yaml:"model"`             // falls back to $OPENAI_MODEL
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Load reads the configuration at configPath, expands environment variables and
// applies defaults. An empty path yields the defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if os.IsNotExist(err) {
			return nil, errors.ConfigError("configuration file not found").
				WithContext("path", configPath).
				Build()
		}
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").
				WithContext("path", configPath).
				Fatal().
				Build()
		}
		if err := Parse([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	if err := ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals YAML into cfg without applying defaults.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Fatal().Build()
	}
	return nil
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).
			Build()
	}

	example := &Config{}
	if err := ApplyDefaults(example); err != nil {
		return err
	}
	example.Store.Backend = StoreBackendRedis
	example.Store.Redis.URL = "${REDIS_URL}"
	example.LLM.APIKey = "${OPENAI_API_KEY}"

	data, err := yaml.Marshal(example)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal config").Build()
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "failed to write config file").
			WithContext("path", configPath).
			Build()
	}
	return nil
}
