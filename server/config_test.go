package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := NewConfig()
	c.Chat.Token = "tok"
	return c
}

func TestConfig_Defaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, ":9090", c.HTTP.BindAddress)
	assert.Equal(t, "redis://localhost:6379/0", c.Storage.URL)
	assert.Equal(t, "info", c.Logging.Level)
	assert.Equal(t, "30d", c.Audit.TTL)
	assert.Equal(t, "grafana", c.Webhook.Source)
	assert.False(t, c.SQS.Enabled)
	assert.False(t, c.Postgres.Enabled())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	c := validConfig()
	c.Chat.Token = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Logging.Level = "loud"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Storage.URL = "not a url"
	assert.Error(t, c.Validate())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidentd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment = "staging"

[chat]
token = "file-token"
timeout = "5s"

[http]
bind-address = ":8080"

[postgres]
url = "postgres://localhost/incidentd"
`), 0o600))

	t.Setenv("INCIDENTD_CHAT_TOKEN", "env-token")
	t.Setenv("INCIDENTD_HTTP_PORT", "7070")
	t.Setenv("INCIDENTD_QUEUE_URL", "https://sqs.eu-west-1.amazonaws.com/1/q")

	c, err := Load(path)
	require.NoError(t, err)

	// Environment wins over the file.
	assert.Equal(t, "env-token", c.Chat.Token)
	assert.Equal(t, ":7070", c.HTTP.BindAddress)
	assert.Equal(t, "staging", c.Environment)
	assert.Equal(t, "postgres://localhost/incidentd", c.Postgres.URL)
	assert.Equal(t, 5*time.Second, time.Duration(c.Chat.Timeout))

	// Setting a queue URL enables the poller.
	assert.True(t, c.SQS.Enabled)
	require.NoError(t, c.Validate())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Setenv("INCIDENTD_CHAT_TOKEN", "tok")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "tok", c.Chat.Token)
	require.NoError(t, c.Validate())
}
