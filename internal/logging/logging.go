// ABOUTME: Process-wide zerolog setup shared by all binaries
// ABOUTME: Console or JSON output, optional log file, env overrides
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel  = "AVSLINK_LOG_LEVEL"
	EnvLogFormat = "AVSLINK_LOG_FORMAT"
	EnvLogFile   = "AVSLINK_LOG_FILE"
)

// Options controls logger output
type Options struct {
	Level string // trace, debug, info, warn, error, disabled
	JSON  bool
	File  string
	// Quiet drops stdout output. Used when a TUI owns the terminal.
	Quiet bool
}

var setupMu sync.Mutex

// Setup configures the global logger for app and returns it.
// The returned closer releases the log file, if any.
func Setup(app string, opts Options) (zerolog.Logger, io.Closer, error) {
	setupMu.Lock()
	defer setupMu.Unlock()

	applyEnvOverrides(&opts)

	level, ok := parseLevel(opts.Level)
	if !ok {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if !opts.Quiet {
		if opts.JSON {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("error opening log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	return logger, closer, nil
}

// ForTest routes the global logger to t-style output at debug level
func ForTest(w io.Writer) zerolog.Logger {
	setupMu.Lock()
	defer setupMu.Unlock()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).Level(zerolog.DebugLevel)
	log.Logger = logger
	return logger
}

func applyEnvOverrides(opts *Options) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		opts.Level = v
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogFormat))) {
	case "json":
		opts.JSON = true
	case "console", "text":
		opts.JSON = false
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		opts.File = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
