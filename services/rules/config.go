package rules

import "github.com/pkg/errors"

type Config struct {
	// Path of the JSON rule config file loaded on startup and reload.
	Path string `toml:"path"`
}

func NewConfig() Config {
	return Config{
		Path: "/etc/incidentd/alerts.json",
	}
}

func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("must specify path")
	}
	return nil
}
