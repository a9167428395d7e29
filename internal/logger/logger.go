// Package logger provides structured logging for Mavibot.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with Mavibot-specific functionality.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger.
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "mavibot").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) Info(msg string) *zerolog.Event  { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event  { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }
func (l *Logger) Fatal(msg string) *zerolog.Event { return l.zlog.Fatal().Str("msg", msg) }

// WithFields returns a logger with additional fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// TxnLogger returns a logger scoped to a single transaction.
func (l *Logger) TxnLogger(kind string, revision uint64) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "txn").
			Str("kind", kind).
			Uint64("revision", revision).
			Logger(),
	}
}

// TreeLogger returns a logger scoped to operations on a named tree.
func (l *Logger) TreeLogger(name string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "tree").
			Str("tree", name).
			Logger(),
	}
}

// LogCommit logs a completed write transaction.
func (l *Logger) LogCommit(revision uint64, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "txn").
		Str("event", "commit").
		Uint64("revision", revision).
		Dur("duration_ms", duration)
	if err != nil {
		event = l.zlog.Error().
			Str("component", "txn").
			Str("event", "commit_failed").
			Uint64("revision", revision).
			Dur("duration_ms", duration).
			Err(err)
	}
	event.Msg("write transaction completed")
}

// LogReclaim logs a reclaimer sweep.
func (l *Logger) LogReclaim(pagesFreed int, pin uint64) {
	l.zlog.Debug().
		Str("component", "reclaim").
		Str("event", "sweep").
		Int("pages_freed", pagesFreed).
		Uint64("pin", pin).
		Msg("reclaimer sweep completed")
}

// LogOpen logs a successful engine open.
func (l *Logger) LogOpen(path string, pageSize uint32, revision uint64) {
	l.zlog.Info().
		Str("event", "open").
		Str("path", path).
		Uint32("page_size", pageSize).
		Uint64("revision", revision).
		Msg("mavibot file opened")
}

// LogClose logs an engine close.
func (l *Logger) LogClose(path string) {
	l.zlog.Info().
		Str("event", "close").
		Str("path", path).
		Msg("mavibot file closed")
}

var globalLogger *Logger

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance, initializing a
// sensible default if none has been configured yet.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
