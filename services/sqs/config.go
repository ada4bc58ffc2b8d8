package sqs

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

type Config struct {
	Enabled bool `toml:"enabled"`
	// QueueURL of the SQS queue carrying SNS notification envelopes.
	QueueURL string `toml:"queue-url"`
	// Region override; detected from the queue URL when empty.
	Region string `toml:"region"`
}

func NewConfig() Config {
	return Config{}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.QueueURL == "" {
		return errors.New("must specify queue-url")
	}
	if c.Region == "" {
		if _, err := RegionFromURL(c.QueueURL); err != nil {
			return err
		}
	}
	return nil
}

// RegionFromURL extracts the AWS region from a queue URL of the form
// https://sqs.<region>.amazonaws.com/<account>/<name>.
func RegionFromURL(queueURL string) (string, error) {
	u, err := url.Parse(queueURL)
	if err != nil {
		return "", errors.Wrap(err, "parse queue url")
	}
	parts := strings.Split(u.Hostname(), ".")
	if len(parts) >= 2 && parts[0] == "sqs" && parts[1] != "" {
		return parts[1], nil
	}
	return "", errors.Errorf("cannot detect region from queue url %q", queueURL)
}
