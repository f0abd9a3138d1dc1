// Package logging is the key-value logger for the operational CLI
// tools. The long-running server configures zerolog directly; this
// wrapper emits through the same backend while keeping the tools'
// flat "msg, key, value, ..." call style.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // stdout, stderr, or file path
	Component   string `json:"component"`
	IncludeFile bool   `json:"include_file"`
	JSONFormat  bool   `json:"json_format"`
}

// Logger wraps a zerolog.Logger with variadic key-value emission
type Logger struct {
	zl zerolog.Logger
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// New creates a logger from the given configuration. An unparseable
// level falls back to info; an unopenable output file falls back to
// stdout.
func New(cfg *Config) *Logger {
	var out io.Writer = os.Stdout
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			out = f
		}
	}
	if !cfg.JSONFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(normalizeLevel(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Component != "" {
		zctx = zctx.Str("component", cfg.Component)
	}
	if cfg.IncludeFile {
		zctx = zctx.Caller()
	}
	return &Logger{zl: zctx.Logger()}
}

func normalizeLevel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return "warn"
	}
	return s
}

// Default returns the process-wide logger, creating an info-level
// JSON stdout logger on first use
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(&Config{Level: "info", JSONFormat: true})
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// WithComponent returns a logger derived from the default with the
// component set
func WithComponent(component string) *Logger {
	return Default().WithComponent(component)
}

// WithComponent returns a copy with the component field set
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// WithField returns a copy carrying an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithError returns a copy carrying the error as a field; a nil
// error returns the receiver unchanged
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// WithDuration returns a copy carrying an elapsed-time field
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{zl: l.zl.With().Dur("duration", d).Logger()}
}

func (l *Logger) Debug(msg string, args ...interface{}) { emit(l.zl.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { emit(l.zl.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { emit(l.zl.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { emit(l.zl.Error(), msg, args) }

// emit attaches args as key-value pairs. A malformed trailer (odd
// length or a non-string key) lands under a single "args" field
// rather than being dropped.
func emit(ev *zerolog.Event, msg string, args []interface{}) {
	if len(args)%2 != 0 {
		ev.Interface("args", args).Msg(msg)
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			ev.Interface("args", args).Msg(msg)
			return
		}
		if err, isErr := args[i+1].(error); isErr && err != nil {
			ev = ev.AnErr(key, err)
		} else {
			ev = ev.Interface(key, args[i+1])
		}
	}
	ev.Msg(msg)
}
