package httpd

import (
	"time"

	"github.com/pkg/errors"

	"github.com/incidenthq/incidentd/toml"
)

type Config struct {
	// BindAddress the API server listens on.
	BindAddress string `toml:"bind-address"`
	// AuthToken, when set, requires `Authorization: Bearer <token>` on every
	// route except /health and /metrics.
	AuthToken string `toml:"auth-token"`
	// LogEnabled emits one diagnostic line per request.
	LogEnabled bool `toml:"log-enabled"`
	// ShutdownTimeout bounds how long Close waits for in-flight requests.
	ShutdownTimeout toml.Duration `toml:"shutdown-timeout"`
}

func NewConfig() Config {
	return Config{
		BindAddress:     ":9090",
		LogEnabled:      true,
		ShutdownTimeout: toml.Duration(10 * time.Second),
	}
}

func (c Config) Validate() error {
	if c.BindAddress == "" {
		return errors.New("must specify bind-address")
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown-timeout must not be negative")
	}
	return nil
}
