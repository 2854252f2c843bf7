package queueflow

import "log/slog"

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	cfg    Config
	logger *slog.Logger
}

// WithConfig replaces the engine's default configuration.
func WithConfig(cfg Config) EngineOption {
	return func(o *engineOptions) {
		if cfg.DefaultQueue == "" {
			cfg.DefaultQueue = DefaultQueueName
		}
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = defaultConfig().PollInterval
		}
		if cfg.LeaseTimeout <= 0 {
			cfg.LeaseTimeout = defaultConfig().LeaseTimeout
		}
		if cfg.ShutdownTimeout <= 0 {
			cfg.ShutdownTimeout = defaultConfig().ShutdownTimeout
		}
		if cfg.DefaultConcurrency <= 0 {
			cfg.DefaultConcurrency = defaultConfig().DefaultConcurrency
		}
		if cfg.DefaultMaxAttempts <= 0 {
			cfg.DefaultMaxAttempts = defaultConfig().DefaultMaxAttempts
		}
		o.cfg = cfg
	}
}

// WithLogger sets the logger used by the engine and its consumers.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
