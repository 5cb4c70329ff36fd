package mqtt5

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum severity a Logger emits.
type LogLevel int

// Log levels.
const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelNone
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel maps "debug", "info", "warn", "error" and "none" to a level.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "off":
		return LogLevelNone, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

// LogFields are structured key/value pairs attached to a log entry.
type LogFields map[string]any

// Logger is the logging surface used by the client and engine.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields returns a logger that adds fields to every entry.
	WithFields(fields LogFields) Logger

	Level() LogLevel
	SetLevel(level LogLevel)
}

// Standard field names.
const (
	LogFieldClientID   = "client_id"
	LogFieldServer     = "server"
	LogFieldTopic      = "topic"
	LogFieldPacketID   = "packet_id"
	LogFieldPacketType = "packet_type"
	LogFieldQoS        = "qos"
	LogFieldReasonCode = "reason_code"
	LogFieldState      = "state"
	LogFieldAttempt    = "attempt"
	LogFieldDelay      = "delay"
	LogFieldQueued     = "queued"
	LogFieldTag        = "tag"
	LogFieldError      = "error"
)

// NoOpLogger discards everything.
type NoOpLogger struct{}

// NewNoOpLogger returns a logger that discards everything.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (*NoOpLogger) Debug(string, LogFields) {}

func (*NoOpLogger) Info(string, LogFields) {}

func (*NoOpLogger) Warn(string, LogFields) {}

func (*NoOpLogger) Error(string, LogFields) {}

func (n *NoOpLogger) WithFields(LogFields) Logger { return n }

func (*NoOpLogger) Level() LogLevel { return LogLevelNone }

func (*NoOpLogger) SetLevel(LogLevel) {}

// ZapLogger adapts a zap.Logger to Logger. Loggers derived with WithFields
// share the level of their parent.
type ZapLogger struct {
	log   *zap.Logger
	level zap.AtomicLevel
}

// NewZapLogger builds a console logger writing to stderr with the time
// layout used across our services.
func NewZapLogger(level LogLevel) (*ZapLogger, error) {
	atom := zap.NewAtomicLevelAt(toZapLevel(level))
	cfg := zap.Config{
		Level:       atom,
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &ZapLogger{log: l, level: atom}, nil
}

// NewZapLoggerFrom wraps an existing zap logger. Level changes made through
// SetLevel apply on top of the core's own level.
func NewZapLoggerFrom(l *zap.Logger, level LogLevel) *ZapLogger {
	atom := zap.NewAtomicLevelAt(toZapLevel(level))
	core := l.Core()
	return &ZapLogger{
		log:   zap.New(&leveledCore{Core: core, level: atom}),
		level: atom,
	}
}

func (z *ZapLogger) Debug(msg string, fields LogFields) { z.log.Debug(msg, zapFields(fields)...) }

func (z *ZapLogger) Info(msg string, fields LogFields) { z.log.Info(msg, zapFields(fields)...) }

func (z *ZapLogger) Warn(msg string, fields LogFields) { z.log.Warn(msg, zapFields(fields)...) }

func (z *ZapLogger) Error(msg string, fields LogFields) { z.log.Error(msg, zapFields(fields)...) }

func (z *ZapLogger) WithFields(fields LogFields) Logger {
	return &ZapLogger{log: z.log.With(zapFields(fields)...), level: z.level}
}

func (z *ZapLogger) Level() LogLevel { return fromZapLevel(z.level.Level()) }

func (z *ZapLogger) SetLevel(level LogLevel) { z.level.SetLevel(toZapLevel(level)) }

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error { return z.log.Sync() }

// Zap exposes the underlying logger.
func (z *ZapLogger) Zap() *zap.Logger { return z.log }

// leveledCore filters an existing core through an AtomicLevel.
type leveledCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c *leveledCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c *leveledCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return &leveledCore{Core: c.Core.With(fields), level: c.level}
}

func zapFields(fields LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func toZapLevel(l LogLevel) zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1
	}
}

func fromZapLevel(l zapcore.Level) LogLevel {
	switch {
	case l <= zapcore.DebugLevel:
		return LogLevelDebug
	case l == zapcore.InfoLevel:
		return LogLevelInfo
	case l == zapcore.WarnLevel:
		return LogLevelWarn
	case l <= zapcore.FatalLevel:
		return LogLevelError
	default:
		return LogLevelNone
	}
}
