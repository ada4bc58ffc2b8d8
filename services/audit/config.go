package audit

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	// TTL bounds how long audit events are kept. Accepts "Nd", "Ndays", or a
	// raw number of seconds. Empty disables the retention sweep.
	TTL string `toml:"ttl"`
}

func NewConfig() Config {
	return Config{
		TTL: "30d",
	}
}

func (c Config) Validate() error {
	_, err := ParseTTL(c.TTL)
	return err
}

// ParseTTL parses the retention TTL. Zero means retention is disabled.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	days := strings.TrimSuffix(strings.TrimSuffix(s, "days"), "d")
	if days != s {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, errors.Errorf("invalid ttl %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs < 0 {
		return 0, errors.Errorf("invalid ttl %q", s)
	}
	return time.Duration(secs) * time.Second, nil
}
