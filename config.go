package mqtt5

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnknownConfigFormat is returned by LoadConfig for a file extension
// other than .toml, .yaml or .yml.
var ErrUnknownConfigFormat = errors.New("unknown config file format")

// FileConfig is the on-disk form of an engine configuration.
//
//	server = "tcp://broker.local:1883"
//	client_id = "sensor-7"
//	publish_topic = "sensors/7/data"
//	subscribe_topic = "sensors/7/cmd/#"
//	subscribe_qos = 1
//
//	[session]
//	keep_alive = 30
//	reconnect_policy = "backoff"
//	reconnect_min_delay = "1s"
//	reconnect_max_delay = "30s"
type FileConfig struct {
	Server         string `toml:"server" yaml:"server" validate:"required,uri"`
	ClientID       string `toml:"client_id" yaml:"client_id"`
	PublishTopic   string `toml:"publish_topic" yaml:"publish_topic"`
	SubscribeTopic string `toml:"subscribe_topic" yaml:"subscribe_topic"`
	SubscribeQoS   byte   `toml:"subscribe_qos" yaml:"subscribe_qos" validate:"lte=2"`

	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`

	Session FileSession `toml:"session" yaml:"session"`
	TLS     FileTLS     `toml:"tls" yaml:"tls"`
	Log     FileLog     `toml:"log" yaml:"log"`

	ProxyURL string `toml:"proxy" yaml:"proxy" validate:"omitempty,url"`
}

// FileSession holds the session and reconnect settings. Durations use
// time.ParseDuration syntax; empty values keep the defaults.
type FileSession struct {
	KeepAlive             *uint16 `toml:"keep_alive" yaml:"keep_alive"`
	CleanStart            *bool   `toml:"clean_start" yaml:"clean_start"`
	SessionExpiryInterval uint32  `toml:"session_expiry_interval" yaml:"session_expiry_interval"`
	ConnectTimeout        string  `toml:"connect_timeout" yaml:"connect_timeout"`
	WriteTimeout          string  `toml:"write_timeout" yaml:"write_timeout"`
	MaxPacketSize         uint32  `toml:"max_packet_size" yaml:"max_packet_size"`
	ReceiveMaximum        uint16  `toml:"receive_maximum" yaml:"receive_maximum"`

	AutomaticReconnect *bool   `toml:"automatic_reconnect" yaml:"automatic_reconnect"`
	ReconnectPolicy    string  `toml:"reconnect_policy" yaml:"reconnect_policy" validate:"omitempty,oneof=backoff immediate"`
	ReconnectMinDelay  string  `toml:"reconnect_min_delay" yaml:"reconnect_min_delay"`
	ReconnectMaxDelay  string  `toml:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	ReconnectRate      float64 `toml:"reconnect_rate" yaml:"reconnect_rate" validate:"gte=0"`
	MaxReconnects      int     `toml:"max_reconnects" yaml:"max_reconnects" validate:"gte=0"`
}

// FileTLS configures the client side of TLS connections.
type FileTLS struct {
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	CertFile           string `toml:"cert_file" yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile            string `toml:"key_file" yaml:"key_file" validate:"required_with=CertFile"`
	ServerName         string `toml:"server_name" yaml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// FileLog selects the log level of the CLI logger.
type FileLog struct {
	Level string `toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error none off"`
}

// LoadConfig reads a TOML or YAML file, chosen by extension, and validates
// it.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Field: "file", Cause: err}
	}

	cfg := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
			return nil, &ConfigurationError{Field: "file", Cause: err}
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, &ConfigurationError{Field: "file", Cause: err}
		}
	default:
		return nil, &ConfigurationError{Field: "file", Cause: fmt.Errorf("%w: %q", ErrUnknownConfigFormat, path)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags of the file configuration.
func (c *FileConfig) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		return validationError("file", err)
	}
	return nil
}

// ConnectionOptions builds validated options from the file settings.
func (c *FileConfig) ConnectionOptions() (ConnectionOptions, error) {
	s := c.Session
	opts := []Option{}

	if c.Username != "" || c.Password != "" {
		opts = append(opts, WithCredentials(c.Username, c.Password))
	}
	if s.KeepAlive != nil {
		opts = append(opts, WithKeepAlive(*s.KeepAlive))
	}
	if s.CleanStart != nil {
		opts = append(opts, WithCleanStart(*s.CleanStart))
	}
	if s.SessionExpiryInterval > 0 {
		opts = append(opts, WithSessionExpiryInterval(s.SessionExpiryInterval))
	}
	if s.MaxPacketSize > 0 {
		opts = append(opts, WithMaxPacketSize(s.MaxPacketSize))
	}
	if s.ReceiveMaximum > 0 {
		opts = append(opts, WithReceiveMaximum(s.ReceiveMaximum))
	}
	if s.AutomaticReconnect != nil {
		opts = append(opts, WithAutomaticReconnect(*s.AutomaticReconnect))
	}
	if s.ReconnectPolicy != "" {
		p, err := ParseReconnectPolicy(s.ReconnectPolicy)
		if err != nil {
			return ConnectionOptions{}, &ConfigurationError{Field: "file.session.reconnect_policy", Cause: err}
		}
		opts = append(opts, WithReconnectPolicy(p))
	}
	if s.ReconnectRate > 0 {
		opts = append(opts, WithReconnectRate(s.ReconnectRate))
	}
	if s.MaxReconnects > 0 {
		opts = append(opts, WithMaxReconnects(s.MaxReconnects))
	}
	if c.ProxyURL != "" {
		opts = append(opts, WithProxy(c.ProxyURL))
	}

	durations := []struct {
		field string
		value string
		apply func(time.Duration, *ConnectionOptions)
	}{
		{"connect_timeout", s.ConnectTimeout, func(d time.Duration, o *ConnectionOptions) { o.ConnectTimeout = d }},
		{"write_timeout", s.WriteTimeout, func(d time.Duration, o *ConnectionOptions) { o.WriteTimeout = d }},
		{"reconnect_min_delay", s.ReconnectMinDelay, func(d time.Duration, o *ConnectionOptions) { o.ReconnectMinDelay = d }},
		{"reconnect_max_delay", s.ReconnectMaxDelay, func(d time.Duration, o *ConnectionOptions) { o.ReconnectMaxDelay = d }},
	}
	for _, dur := range durations {
		if dur.value == "" {
			continue
		}
		d, err := time.ParseDuration(dur.value)
		if err != nil {
			return ConnectionOptions{}, &ConfigurationError{Field: "file.session." + dur.field, Cause: err}
		}
		apply := dur.apply
		opts = append(opts, func(o *ConnectionOptions) { apply(d, o) })
	}

	tlsConfig, err := c.TLS.load()
	if err != nil {
		return ConnectionOptions{}, err
	}
	if tlsConfig != nil {
		opts = append(opts, WithTLS(tlsConfig))
	}

	return NewConnectionOptions(opts...)
}

// EngineConfig converts the file into an engine Config bound to ctx.
func (c *FileConfig) EngineConfig(ctx context.Context) (Config, error) {
	opts, err := c.ConnectionOptions()
	if err != nil {
		return Config{}, err
	}
	return Config{
		AppContext:     ctx,
		ServerURI:      c.Server,
		ClientID:       c.ClientID,
		PublishTopic:   c.PublishTopic,
		SubscribeTopic: c.SubscribeTopic,
		SubscribeQoS:   c.SubscribeQoS,
		Options:        &opts,
	}, nil
}

// LogLevel returns the configured level, defaulting to info.
func (c *FileConfig) LogLevel() LogLevel {
	level, _ := ParseLogLevel(c.Log.Level)
	return level
}

// load returns nil when no TLS setting is present.
func (t FileTLS) load() (*tls.Config, error) {
	if t == (FileTLS{}) {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify, //nolint:gosec // opt-in for test brokers
	}
	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, &ConfigurationError{Field: "file.tls.ca_file", Cause: err}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &ConfigurationError{Field: "file.tls.ca_file", Cause: errors.New("no certificates found")}
		}
		cfg.RootCAs = pool
	}
	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, &ConfigurationError{Field: "file.tls.cert_file", Cause: err}
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
