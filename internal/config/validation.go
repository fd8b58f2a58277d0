package config

import (
	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

func wrapDomain(domain string, err error) error {
	return errors.WrapError(err, errors.CategoryConfig, "invalid "+domain+" configuration").
		WithContext("domain", domain).
		Fatal().
		Build()
}

func invalid(domain, field, message string) error {
	return errors.ConfigError(message).
		WithContext("domain", domain).
		WithContext("field", field).
		Build()
}

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendRedis, StoreBackendSQLite:
	default:
		return invalid("store", "backend", "unsupported store backend")
	}
	if c.Store.MaxLen < 0 {
		return invalid("store", "max_len", "max_len cannot be negative")
	}
	if c.Subscriber.Count <= 0 {
		return invalid("subscriber", "count", "count must be positive")
	}
	if c.Subscriber.Block < 0 {
		return invalid("subscriber", "block", "serving subscribers must not block forever")
	}
	if c.Subscriber.Backoff.Initial > c.Subscriber.Backoff.Max {
		return invalid("subscriber", "backoff.initial", "initial backoff exceeds max")
	}
	if c.Reclaim.Enabled && c.Reclaim.MinIdle < c.Subscriber.Block {
		return invalid("reclaim", "min_idle", "min_idle must be at least the subscriber block window")
	}
	if c.Notify.Enabled && c.Notify.SubjectPrefix == "" {
		return invalid("notify", "subject_prefix", "subject_prefix is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return invalid("llm", "temperature", "temperature must be between 0 and 2")
	}
	return nil
}

// ValidateWorker checks the settings a running worker needs on top of Validate.
func (c *Config) ValidateWorker() error {
	if c.Subscriber.Group == "" {
		return invalid("subscriber", "group", "group is required")
	}
	if c.Subscriber.Consumer == "" {
		return invalid("subscriber", "consumer", "consumer is required")
	}
	return nil
}
