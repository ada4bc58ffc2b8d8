package chat

import (
	"time"

	"github.com/pkg/errors"

	"github.com/incidenthq/incidentd/toml"
)

const DefaultAPIURL = "https://discord.com/api/v10"

type Config struct {
	// Token authenticates every REST call.
	Token string `toml:"token"`
	// APIURL is the REST endpoint base. Override for compatible servers and
	// for tests.
	APIURL string `toml:"api-url"`
	// DefaultChannel receives alerts whose rule has no channel override.
	DefaultChannel string `toml:"default-channel"`
	// Guild restricts reconciliation to channels of one guild when set.
	Guild string `toml:"guild"`
	// Timeout bounds each REST call.
	Timeout toml.Duration `toml:"timeout"`
}

func NewConfig() Config {
	return Config{
		APIURL:  DefaultAPIURL,
		Timeout: toml.Duration(10 * time.Second),
	}
}

func (c Config) Validate() error {
	if c.Token == "" {
		return errors.New("must specify token")
	}
	if c.APIURL == "" {
		return errors.New("must specify api-url")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}
