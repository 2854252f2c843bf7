package queueflow

import (
	"errors"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the tunables shared by the engine and its consumers. Fields
// are populated from environment variables via caarlos0/env.
type Config struct {
	DefaultQueue       string        `env:"QUEUEFLOW_DEFAULT_QUEUE" envDefault:"default"`
	PollInterval       time.Duration `env:"QUEUEFLOW_POLL_INTERVAL" envDefault:"1s"`
	LeaseTimeout       time.Duration `env:"QUEUEFLOW_LEASE_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout    time.Duration `env:"QUEUEFLOW_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	DefaultConcurrency int           `env:"QUEUEFLOW_DEFAULT_CONCURRENCY" envDefault:"5"`
	DefaultMaxAttempts int           `env:"QUEUEFLOW_DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
}

// ErrParsingConfig wraps env parsing failures so callers can errors.Is them.
var ErrParsingConfig = errors.New("failed to parse queueflow config from environment")

var defaultEnvLoaded sync.Once

// LoadConfig populates a Config from the environment, loading a .env file
// first if one exists. A missing .env file is not an error.
func LoadConfig() (Config, error) {
	defaultEnvLoaded.Do(func() {
		_ = godotenv.Load()
	})

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// defaultConfig mirrors the envDefault values for hosts that construct an
// engine without touching the environment.
func defaultConfig() Config {
	return Config{
		DefaultQueue:       DefaultQueueName,
		PollInterval:       time.Second,
		LeaseTimeout:       5 * time.Minute,
		ShutdownTimeout:    30 * time.Second,
		DefaultConcurrency: 5,
		DefaultMaxAttempts: 3,
	}
}
