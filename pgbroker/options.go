package pgbroker

import "log/slog"

// Option is a functional option for configuring the broker.
type Option func(*Broker)

// WithLogger sets the logger used for non-fatal broker warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}
