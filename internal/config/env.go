package config

import (
	"os"

	"github.com/joho/godotenv"
)

// loadEnvFiles loads .env and .env.local when present. Variables already set in
// the process environment win.
func loadEnvFiles() {
	for _, path := range []string{".env", ".env.local"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

// applyEnvOverrides fills settings the services historically took from the environment.
func applyEnvOverrides(cfg *Config) {
	if cfg.Store.Redis.URL == "" {
		cfg.Store.Redis.URL = os.Getenv("REDIS_URL")
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.Notify.URL == "" {
		cfg.Notify.URL = os.Getenv("NATS_URL")
	}
}
