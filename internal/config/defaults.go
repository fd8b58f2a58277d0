package config

import (
	"time"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// StoreDefaultApplier handles store configuration defaults.
type StoreDefaultApplier struct{}

func (StoreDefaultApplier) Domain() string { return "store" }

func (StoreDefaultApplier) ApplyDefaults(cfg *Config) error {
	backend, err := ParseStoreBackend(string(cfg.Store.Backend))
	if err != nil {
		return err
	}
	cfg.Store.Backend = backend
	if cfg.Store.MaxLen == 0 {
		cfg.Store.MaxLen = 10000
	}
	if cfg.Store.Redis.Address == "" {
		cfg.Store.Redis.Address = "localhost:6379"
	}
	if cfg.Store.Redis.PoolSize <= 0 {
		cfg.Store.Redis.PoolSize = 10
	}
	if cfg.Store.Redis.MaxRetries == 0 {
		cfg.Store.Redis.MaxRetries = 3
	}
	if cfg.Store.Redis.Timeout <= 0 {
		cfg.Store.Redis.Timeout = 5 * time.Second
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "pmbus.db"
	}
	if cfg.Store.SQLite.PollInterval <= 0 {
		cfg.Store.SQLite.PollInterval = 100 * time.Millisecond
	}
	return nil
}

// SubscriberDefaultApplier handles consume loop defaults.
type SubscriberDefaultApplier struct{}

func (SubscriberDefaultApplier) Domain() string { return "subscriber" }

func (SubscriberDefaultApplier) ApplyDefaults(cfg *Config) error {
	s := &cfg.Subscriber
	if s.Count == 0 {
		s.Count = 10
	}
	if s.Block == 0 {
		s.Block = 5 * time.Second
	}
	if s.StartID == "" {
		s.StartID = "$"
	}
	if mode := NormalizeRetryBackoff(string(s.Backoff.Mode)); mode != "" {
		s.Backoff.Mode = mode
	} else {
		s.Backoff.Mode = RetryBackoffFixed
	}
	if s.Backoff.Initial <= 0 {
		s.Backoff.Initial = time.Second
	}
	if s.Backoff.Max <= 0 {
		s.Backoff.Max = 30 * time.Second
	}
	return nil
}

// ReclaimDefaultApplier handles redelivery sweep defaults. The sweep stays off unless enabled.
type ReclaimDefaultApplier struct{}

func (ReclaimDefaultApplier) Domain() string { return "reclaim" }

func (ReclaimDefaultApplier) ApplyDefaults(cfg *Config) error {
	r := &cfg.Reclaim
	if r.Interval <= 0 {
		r.Interval = 30 * time.Second
	}
	if r.MinIdle <= 0 {
		r.MinIdle = time.Minute
	}
	if r.MaxDeliveries <= 0 {
		r.MaxDeliveries = 5
	}
	if r.Batch <= 0 {
		r.Batch = 100
	}
	return nil
}

// ObservabilityDefaultApplier handles logging and metrics defaults.
type ObservabilityDefaultApplier struct{}

func (ObservabilityDefaultApplier) Domain() string { return "observability" }

func (ObservabilityDefaultApplier) ApplyDefaults(cfg *Config) error {
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9464"
	}
	return nil
}

// IntegrationDefaultApplier handles the NATS relay and LLM endpoint defaults.
type IntegrationDefaultApplier struct{}

func (IntegrationDefaultApplier) Domain() string { return "integrations" }

func (IntegrationDefaultApplier) ApplyDefaults(cfg *Config) error {
	n := &cfg.Notify
	if n.URL == "" {
		n.URL = "nats://127.0.0.1:4222"
	}
	if n.Stream == "" {
		n.Stream = "INSIGHTS"
	}
	if n.SubjectPrefix == "" {
		n.SubjectPrefix = "insights"
	}
	if n.Timeout <= 0 {
		n.Timeout = 5 * time.Second
	}

	l := &cfg.LLM
	if l.BaseURL == "" {
		l.BaseURL = "https://api.openai.com/v1"
	}
	if l.Model == "" {
		l.Model = "gpt-4-turbo"
	}
	if l.Temperature == 0 {
		l.Temperature = 0.3
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 2000
	}
	if l.Timeout <= 0 {
		l.Timeout = 60 * time.Second
	}
	return nil
}

var defaultAppliers = []DefaultApplier{
	StoreDefaultApplier{},
	SubscriberDefaultApplier{},
	ReclaimDefaultApplier{},
	ObservabilityDefaultApplier{},
	IntegrationDefaultApplier{},
}

// ApplyDefaults runs every domain applier in order.
func ApplyDefaults(cfg *Config) error {
	for _, a := range defaultAppliers {
		if err := a.ApplyDefaults(cfg); err != nil {
			return wrapDomain(a.Domain(), err)
		}
	}
	return nil
}
