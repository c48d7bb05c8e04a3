// Package config loads docq settings from the environment, with an optional
// .env file for development.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the docq binaries.
type Config struct {
	// Addr is the queue backend address: a storage directory, a redis://
	// URL, or the http(s):// URL of a docq service.
	Addr string

	// Host and Port are where the REST service listens.
	Host string
	Port int

	// PollInterval is the inline-processing poll cadence.
	PollInterval time.Duration

	// IdleSleep is how long workers wait after draining the queue.
	IdleSleep time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:         getEnv("DOCQ_ADDR", filepath.Join(os.TempDir(), "docq")),
		Host:         getEnv("DOCQ_HOST", "localhost"),
		Port:         getEnvAsInt("DOCQ_PORT", 5001),
		PollInterval: getEnvAsDuration("DOCQ_POLL_INTERVAL", 100*time.Millisecond),
		IdleSleep:    getEnvAsDuration("DOCQ_IDLE_SLEEP", time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
