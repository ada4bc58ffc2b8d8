package server

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/incidenthq/incidentd/services/audit"
	"github.com/incidenthq/incidentd/services/chat"
	"github.com/incidenthq/incidentd/services/diagnostic"
	"github.com/incidenthq/incidentd/services/httpd"
	"github.com/incidenthq/incidentd/services/postgres"
	"github.com/incidenthq/incidentd/services/rules"
	"github.com/incidenthq/incidentd/services/sqs"
	"github.com/incidenthq/incidentd/services/storage"
	"github.com/incidenthq/incidentd/services/webhook"
)

// Config is the daemon configuration, one section per service.
type Config struct {
	Logging  diagnostic.Config `toml:"logging"`
	HTTP     httpd.Config      `toml:"http"`
	Storage  storage.Config    `toml:"storage"`
	Postgres postgres.Config   `toml:"postgres"`
	Rules    rules.Config      `toml:"rules"`
	Audit    audit.Config      `toml:"audit"`
	Chat     chat.Config       `toml:"chat"`
	Webhook  webhook.Config    `toml:"webhook"`
	SQS      sqs.Config        `toml:"sqs"`

	// Environment tags the deployment, e.g. "production".
	Environment string `toml:"environment"`
}

func NewConfig() *Config {
	return &Config{
		Logging:  diagnostic.NewConfig(),
		HTTP:     httpd.NewConfig(),
		Storage:  storage.NewConfig(),
		Postgres: postgres.NewConfig(),
		Rules:    rules.NewConfig(),
		Audit:    audit.NewConfig(),
		Chat:     chat.NewConfig(),
		Webhook:  webhook.NewConfig(),
		SQS:      sqs.NewConfig(),
	}
}

// NewDemoConfig returns a config suitable for printing as a starting point.
func NewDemoConfig() *Config {
	c := NewConfig()
	c.Chat.Token = "your-bot-token"
	c.Chat.DefaultChannel = "123456789"
	return c
}

// Load reads the toml file at path over the defaults, then applies
// environment overrides. An empty path uses defaults plus environment only.
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, errors.Wrapf(err, "decode config %s", path)
		}
	}
	c.ApplyEnvOverrides()
	return c, nil
}

func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging")
	}
	if err := c.HTTP.Validate(); err != nil {
		return errors.Wrap(err, "http")
	}
	if err := c.Storage.Validate(); err != nil {
		return errors.Wrap(err, "storage")
	}
	if err := c.Postgres.Validate(); err != nil {
		return errors.Wrap(err, "postgres")
	}
	if err := c.Rules.Validate(); err != nil {
		return errors.Wrap(err, "rules")
	}
	if err := c.Audit.Validate(); err != nil {
		return errors.Wrap(err, "audit")
	}
	if err := c.Chat.Validate(); err != nil {
		return errors.Wrap(err, "chat")
	}
	if err := c.Webhook.Validate(); err != nil {
		return errors.Wrap(err, "webhook")
	}
	if err := c.SQS.Validate(); err != nil {
		return errors.Wrap(err, "sqs")
	}
	return nil
}

// ApplyEnvOverrides lets deployment environments override file values.
func (c *Config) ApplyEnvOverrides() {
	set := func(target *string, key string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	set(&c.Chat.Token, "INCIDENTD_CHAT_TOKEN")
	set(&c.Chat.DefaultChannel, "INCIDENTD_DEFAULT_CHANNEL")
	set(&c.Chat.Guild, "INCIDENTD_GUILD")
	set(&c.Storage.URL, "INCIDENTD_STORAGE_URL")
	set(&c.Postgres.URL, "INCIDENTD_DATABASE_URL")
	set(&c.HTTP.AuthToken, "INCIDENTD_AUTH_TOKEN")
	set(&c.Rules.Path, "INCIDENTD_RULES_PATH")
	set(&c.Audit.TTL, "INCIDENTD_AUDIT_TTL")
	set(&c.Logging.Level, "INCIDENTD_LOG_LEVEL")
	set(&c.Environment, "INCIDENTD_ENVIRONMENT")
	set(&c.SQS.QueueURL, "INCIDENTD_QUEUE_URL")
	set(&c.SQS.Region, "INCIDENTD_QUEUE_REGION")
	if c.SQS.QueueURL != "" {
		c.SQS.Enabled = true
	}
	if port := os.Getenv("INCIDENTD_HTTP_PORT"); port != "" {
		c.HTTP.BindAddress = ":" + port
	}
}
