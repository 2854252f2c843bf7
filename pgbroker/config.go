package pgbroker

import "time"

type Config struct {
	ConnectionString  string        `env:"QUEUEFLOW_PG_CONN_URL,required"`                    // ConnectionString is the connection string to the database.
	MaxOpenConns      int32         `env:"QUEUEFLOW_PG_MAX_OPEN_CONNS" envDefault:"10"`       // MaxOpenConns is the maximum number of open connections.
	MaxIdleConns      int32         `env:"QUEUEFLOW_PG_MAX_IDLE_CONNS" envDefault:"5"`        // MaxIdleConns is the minimum number of idle connections kept warm.
	HealthCheckPeriod time.Duration `env:"QUEUEFLOW_PG_HEALTHCHECK_PERIOD" envDefault:"1m"`   // HealthCheckPeriod is the period between pool health checks.
	MaxConnIdleTime   time.Duration `env:"QUEUEFLOW_PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`  // MaxConnIdleTime is how long a connection may sit idle before being closed.
	MaxConnLifetime   time.Duration `env:"QUEUEFLOW_PG_MAX_CONN_LIFETIME" envDefault:"30m"`   // MaxConnLifetime is how long a connection may be reused.
	RetryAttempts     int           `env:"QUEUEFLOW_PG_RETRY_ATTEMPTS" envDefault:"3"`        // RetryAttempts is the number of retry attempts to connect.
	RetryInterval     time.Duration `env:"QUEUEFLOW_PG_RETRY_INTERVAL" envDefault:"5s"`       // RetryInterval is the interval between retry attempts.
}
