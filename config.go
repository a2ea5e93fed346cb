package firemsg

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config is the process-wide configuration surface. It is read once at
// construction and immutable afterwards.
type Config struct {
	// ProjectID is the provider project. ENV: FIREMSG_PROJECT_ID
	ProjectID string `env:"FIREMSG_PROJECT_ID"`

	// CredentialsFile points at a service-account JSON key. When empty, the
	// App must be given an HTTP client or token source via options.
	// ENV: GOOGLE_APPLICATION_CREDENTIALS
	CredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS"`

	// KeyCachePath selects the file-backed key cache. ENV: FIREMSG_KEY_CACHE_PATH
	KeyCachePath string `env:"FIREMSG_KEY_CACHE_PATH"`

	// RedisAddr selects the Redis-backed key cache and takes precedence over
	// KeyCachePath. ENV: FIREMSG_REDIS_ADDR
	RedisAddr string `env:"FIREMSG_REDIS_ADDR"`

	// KeyTTL is how long fetched keys stay fresh. ENV: FIREMSG_KEY_TTL
	KeyTTL time.Duration `env:"FIREMSG_KEY_TTL,default=1h"`

	// RefreshCheckInterval is how often staleness is re-evaluated after an
	// attempt. ENV: FIREMSG_REFRESH_CHECK_INTERVAL
	RefreshCheckInterval time.Duration `env:"FIREMSG_REFRESH_CHECK_INTERVAL,default=10s"`

	// MaxFetchRetries bounds retries inside one key fetch. ENV: FIREMSG_MAX_FETCH_RETRIES
	MaxFetchRetries int `env:"FIREMSG_MAX_FETCH_RETRIES,default=10"`

	// MulticastConcurrency is the fan-out worker pool width. ENV: FIREMSG_MULTICAST_CONCURRENCY
	MulticastConcurrency int `env:"FIREMSG_MULTICAST_CONCURRENCY,default=10"`

	// SendTimeout bounds each individual send. ENV: FIREMSG_SEND_TIMEOUT
	SendTimeout time.Duration `env:"FIREMSG_SEND_TIMEOUT,default=30s"`
}

// ConfigFromEnv populates a Config from the environment.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return &cfg, nil
}
