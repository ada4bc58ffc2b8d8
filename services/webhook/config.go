package webhook

import "github.com/pkg/errors"

type Config struct {
	// Source tags alerts accepted on the webhook endpoint.
	Source string `toml:"source"`
	// Workers processing the detached batches.
	Workers int `toml:"workers"`
	// QueueSize bounds the backlog of pending alerts.
	QueueSize int `toml:"queue-size"`
}

func NewConfig() Config {
	return Config{
		Source:    "grafana",
		Workers:   4,
		QueueSize: 256,
	}
}

func (c Config) Validate() error {
	if c.Source == "" {
		return errors.New("must specify source")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.QueueSize <= 0 {
		return errors.New("queue-size must be positive")
	}
	return nil
}
