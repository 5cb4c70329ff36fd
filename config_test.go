package mqtt5

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const tomlConfig = `
server = "tcp://broker.local:1883"
client_id = "sensor-7"
publish_topic = "sensors/7/data"
subscribe_topic = "sensors/7/cmd/#"
subscribe_qos = 1
username = "svc"
password = "secret"

[session]
keep_alive = 30
clean_start = false
connect_timeout = "3s"
reconnect_policy = "immediate"
reconnect_rate = 2.5
reconnect_min_delay = "500ms"
reconnect_max_delay = "10s"
max_reconnects = 4

[log]
level = "debug"
`

const yamlConfig = `
server: ws://broker.local:8080/mqtt
client_id: sensor-8
subscribe_topic: sensors/8/cmd/+
session:
  keep_alive: 0
  automatic_reconnect: false
  write_timeout: 1s
log:
  level: warn
`

func TestLoadConfigTOML(t *testing.T) {
	fc, err := LoadConfig(writeConfig(t, "client.toml", tomlConfig))
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker.local:1883", fc.Server)
	assert.Equal(t, byte(1), fc.SubscribeQoS)
	assert.Equal(t, LogLevelDebug, fc.LogLevel())

	opts, err := fc.ConnectionOptions()
	require.NoError(t, err)
	assert.Equal(t, uint16(30), opts.KeepAlive)
	assert.False(t, opts.CleanStart)
	assert.Equal(t, 3*time.Second, opts.ConnectTimeout)
	assert.Equal(t, ReconnectImmediate, opts.ReconnectPolicy)
	assert.InDelta(t, 2.5, opts.ReconnectRate, 0.001)
	assert.Equal(t, 500*time.Millisecond, opts.ReconnectMinDelay)
	assert.Equal(t, 10*time.Second, opts.ReconnectMaxDelay)
	assert.Equal(t, 4, opts.MaxReconnects)
	assert.Equal(t, "svc", opts.Username)
	assert.Equal(t, []byte("secret"), opts.Password)
	assert.Nil(t, opts.TLSConfig)

	ctx := context.Background()
	cfg, err := fc.EngineConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, ctx, cfg.AppContext)
	assert.Equal(t, "sensor-7", cfg.ClientID)
	assert.Equal(t, "sensors/7/data", cfg.PublishTopic)
	assert.Equal(t, "sensors/7/cmd/#", cfg.SubscribeTopic)
	assert.Equal(t, QoS1, cfg.SubscribeQoS)
	require.NotNil(t, cfg.Options)
	assert.Equal(t, opts.KeepAlive, cfg.Options.KeepAlive)
}

func TestLoadConfigYAML(t *testing.T) {
	fc, err := LoadConfig(writeConfig(t, "client.yml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "sensor-8", fc.ClientID)
	assert.Equal(t, LogLevelWarn, fc.LogLevel())

	opts, err := fc.ConnectionOptions()
	require.NoError(t, err)
	assert.Zero(t, opts.KeepAlive)
	assert.False(t, opts.AutomaticReconnect)
	assert.Equal(t, time.Second, opts.WriteTimeout)
	assert.Equal(t, ReconnectBackoff, opts.ReconnectPolicy)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		field   string
	}{
		{"unknown extension", "client.json", `{}`, "file"},
		{"bad toml", "client.toml", `server = `, "file"},
		{"unknown yaml field", "client.yaml", "server: tcp://a:1883\nbogus: 1\n", "file"},
		{"missing server", "client.toml", `client_id = "x"`, "file.Server"},
		{"qos out of range", "client.toml", "server = \"tcp://a:1883\"\nsubscribe_qos = 3\n", "file.SubscribeQoS"},
		{"bad policy", "client.toml", "server = \"tcp://a:1883\"\n[session]\nreconnect_policy = \"linear\"\n", "file.ReconnectPolicy"},
		{"cert without key", "client.toml", "server = \"tcp://a:1883\"\n[tls]\ncert_file = \"c.pem\"\n", "file.KeyFile"},
		{"bad log level", "client.yaml", "server: tcp://a:1883\nlog:\n  level: loud\n", "file.Level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.content))

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("unknown format sentinel", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "client.ini", ""))
		assert.ErrorIs(t, err, ErrUnknownConfigFormat)
	})
}

func TestFileConfigConnectionOptionsErrors(t *testing.T) {
	tests := []struct {
		name  string
		fc    FileConfig
		field string
	}{
		{
			"bad duration",
			FileConfig{Server: "tcp://a:1883", Session: FileSession{ConnectTimeout: "soon"}},
			"file.session.connect_timeout",
		},
		{
			"missing ca file",
			FileConfig{Server: "tcp://a:1883", TLS: FileTLS{CAFile: "/nonexistent/ca.pem"}},
			"file.tls.ca_file",
		},
		{
			"delay bounds",
			FileConfig{Server: "tcp://a:1883", Session: FileSession{ReconnectMinDelay: "1m", ReconnectMaxDelay: "1s"}},
			"options.ReconnectMaxDelay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fc.ConnectionOptions()

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	t.Run("ca file without certificates", func(t *testing.T) {
		fc := FileConfig{Server: "tcp://a:1883", TLS: FileTLS{CAFile: writeConfig(t, "ca.pem", "not a pem")}}
		_, err := fc.ConnectionOptions()
		assert.ErrorContains(t, err, "no certificates found")
	})

	t.Run("tls server name only", func(t *testing.T) {
		fc := FileConfig{Server: "ssl://a:8883", TLS: FileTLS{ServerName: "broker"}}
		opts, err := fc.ConnectionOptions()
		require.NoError(t, err)
		require.NotNil(t, opts.TLSConfig)
		assert.Equal(t, "broker", opts.TLSConfig.ServerName)
	})
}
