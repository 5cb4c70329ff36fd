package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cion/mqtt5"
)

var (
	configPath string
	server     string
	clientID   string
	username   string
	password   string
	keepAlive  uint16
	logLevel   string
	policy     string
)

var rootCmd = &cobra.Command{
	Use:   "mqtt5",
	Short: "MQTT v5 command line client",
	Long: `mqtt5 - publish and subscribe against an MQTT v5 broker.

Settings come from flags or a TOML/YAML file given with --config.
Flags override values from the file.

Examples:
  mqtt5 pub -s tcp://localhost:1883 -t sensors/1 -m 21.5
  mqtt5 sub -s wss://broker.example/mqtt -t 'sensors/#' -q 1
  mqtt5 sub --config client.toml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (.toml, .yaml or .yml)")
	flags.StringVarP(&server, "server", "s", "", "server URI, e.g. tcp://localhost:1883")
	flags.StringVarP(&clientID, "client-id", "i", "", "client identifier (default: derived from the machine id)")
	flags.StringVarP(&username, "username", "u", "", "user name")
	flags.StringVarP(&password, "password", "P", "", "password")
	flags.Uint16VarP(&keepAlive, "keep-alive", "k", 60, "keep alive interval in seconds")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error, none")
	flags.StringVar(&policy, "reconnect", "", "reconnect policy: backoff or immediate")
}

// fileConfig merges the config file, if any, with the flags set on cmd.
func fileConfig(cmd *cobra.Command) (*mqtt5.FileConfig, error) {
	cfg := &mqtt5.FileConfig{}
	if configPath != "" {
		loaded, err := mqtt5.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server = server
	}
	if flags.Changed("client-id") {
		cfg.ClientID = clientID
	}
	if flags.Changed("username") {
		cfg.Username = username
	}
	if flags.Changed("password") {
		cfg.Password = password
	}
	if flags.Changed("keep-alive") || cfg.Session.KeepAlive == nil {
		ka := keepAlive
		cfg.Session.KeepAlive = &ka
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("reconnect") {
		cfg.Session.ReconnectPolicy = policy
	}

	if cfg.Server == "" {
		return nil, fmt.Errorf("--server or a config file with a server is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is a running engine plus the logger it writes to.
type session struct {
	engine *mqtt5.Engine
	logger *mqtt5.ZapLogger
	cfg    mqtt5.Config
}

// startSession initializes an engine from the file config. handler receives
// engine events; ctx ends on SIGINT or SIGTERM.
func startSession(ctx context.Context, fc *mqtt5.FileConfig, adjust func(*mqtt5.Config)) (*session, error) {
	logger, err := mqtt5.NewZapLogger(fc.LogLevel())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	cfg, err := fc.EngineConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger
	if adjust != nil {
		adjust(&cfg)
	}

	engine := mqtt5.NewEngine()
	if err := engine.Initialize(cfg); err != nil {
		return nil, err
	}
	return &session{engine: engine, logger: logger, cfg: cfg}, nil
}

func (s *session) close() {
	if err := s.engine.Disconnect(); err != nil {
		s.logger.Debug("disconnect", mqtt5.LogFields{mqtt5.LogFieldError: err})
	}
	if err := s.engine.Recycle(); err != nil {
		s.logger.Debug("recycle", mqtt5.LogFields{mqtt5.LogFieldError: err})
	}
	_ = s.logger.Sync()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
