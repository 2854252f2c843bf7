package redisbroker

import "time"

type Config struct {
	ConnectionURL  string        `env:"QUEUEFLOW_REDIS_URL,required" envDefault:"redis://localhost:6379/0"` // ConnectionURL should be in the format "redis://:password@localhost:6379/0"
	RetryAttempts  int           `env:"QUEUEFLOW_REDIS_RETRY_ATTEMPTS" envDefault:"3"`                      // RetryAttempts is the number of retry attempts to connect to the server.
	RetryInterval  time.Duration `env:"QUEUEFLOW_REDIS_RETRY_INTERVAL" envDefault:"5s"`                     // RetryInterval is the interval between retry attempts.
	ConnectTimeout time.Duration `env:"QUEUEFLOW_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`                   // ConnectTimeout bounds the whole connection phase.
	KeyPrefix      string        `env:"QUEUEFLOW_REDIS_KEY_PREFIX" envDefault:"queueflow"`                  // KeyPrefix namespaces every key the broker touches.
}
