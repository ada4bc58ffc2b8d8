package diagnostic

import "github.com/pkg/errors"

type Config struct {
	// Minimum level of log entries to emit, one of debug, info, warn, error.
	Level string `toml:"level"`
	// Encoding of log output, either console or json.
	Format string `toml:"format"`
}

func NewConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
	}
}

func (c Config) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("invalid log level %q", c.Level)
	}
	switch c.Format {
	case "console", "json":
	default:
		return errors.Errorf("invalid log format %q", c.Format)
	}
	return nil
}
