package config

import (
	"git.home.luguber.info/inful/pmbus/internal/foundation/normalization"
)

// StoreBackend selects the log store implementation.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendRedis  StoreBackend = "redis"
	StoreBackendSQLite StoreBackend = "sqlite"
)

var storeBackendNormalizer = normalization.NewNormalizer(map[string]StoreBackend{
	"memory": StoreBackendMemory,
	"redis":  StoreBackendRedis,
	"sqlite": StoreBackendSQLite,
}, StoreBackendMemory)

// ParseStoreBackend returns the backend for raw; empty selects memory.
func ParseStoreBackend(raw string) (StoreBackend, error) {
	return storeBackendNormalizer.Parse(raw)
}
