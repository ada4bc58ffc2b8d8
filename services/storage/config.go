package storage

import (
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	// URL of the key-value store, e.g. redis://localhost:6379/0.
	URL string `toml:"url"`
	// PoolSize bounds the connection pool shared by all stores.
	PoolSize int `toml:"pool-size"`
}

func NewConfig() Config {
	return Config{
		URL:      "redis://localhost:6379/0",
		PoolSize: 5,
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("must specify storage url")
	}
	if _, err := redis.ParseURL(c.URL); err != nil {
		return errors.Wrapf(err, "invalid storage url %q", c.URL)
	}
	if c.PoolSize <= 0 {
		return errors.New("pool-size must be positive")
	}
	return nil
}
