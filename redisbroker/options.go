package redisbroker

import "log/slog"

// Option is a functional option for configuring the broker.
type Option func(*Broker)

// WithKeyPrefix namespaces every key the broker touches. Defaults to
// "queueflow".
func WithKeyPrefix(prefix string) Option {
	return func(b *Broker) {
		if prefix != "" {
			b.keyPrefix = prefix
		}
	}
}

// WithLogger sets the logger used for non-fatal broker warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}
