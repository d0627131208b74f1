// Package logging provides structured logging for prismd, built on zap.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	// DEBUG level for debug messages.
	DEBUG LogLevel = iota
	// INFO level for information messages.
	INFO
	// WARN level for warning messages.
	WARN
	// ERROR level for error messages.
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLogLevel converts a string to a LogLevel.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F is a convenience function for creating fields.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

func toZap(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

// Logger is the structured logging interface used throughout prismd.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	With(fields ...Field) Logger
	SetLevel(level LogLevel)
}

// Config holds logging configuration.
type Config struct {
	Level  LogLevel
	Format string // "json" or "console"
	Output string // "stdout", "stderr"
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{Level: INFO, Format: "json", Output: "stdout"}
}

type zapLogger struct {
	level *zap.AtomicLevel
	base  *zap.Logger
}

// NewLogger creates a new zap-backed Logger from the given configuration.
func NewLogger(cfg *Config) (Logger, error) {
	level := zap.NewAtomicLevelAt(cfg.Level.zapLevel())

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.AddSync(zapcore.Lock(zapcore.AddSync(newOutput(cfg.Output))))
	core := zapcore.NewCore(encoder, sink, level)
	base := zap.New(core)

	return &zapLogger{level: &level, base: base}, nil
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.base.Debug(msg, toZap(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.base.Info(msg, toZap(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.base.Warn(msg, toZap(fields)...) }

func (l *zapLogger) Error(msg string, err error, fields ...Field) {
	zf := toZap(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.base.Error(msg, zf...)
}

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{level: l.level, base: l.base.With(toZap(fields)...)}
}

func (l *zapLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Nop returns a Logger that discards everything; useful as a safe zero value
// for tests and defaults.
func Nop() Logger {
	return &zapLogger{level: func() *zap.AtomicLevel { a := zap.NewAtomicLevel(); return &a }(), base: zap.NewNop()}
}
