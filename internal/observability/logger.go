package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is the output format (json, console, pretty).
	Format string

	// Output is the output destination (stdout, stderr, or a file path).
	Output string

	// AddSource adds source file and line number to log entries.
	AddSource bool

	// TimeFormat is the time format for timestamps.
	TimeFormat string
}

// DefaultLoggingConfig is JSON at info level on stdout.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a new zerolog logger based on configuration.
// A file output that cannot be opened falls back to stdout.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	output := openOutput(cfg.Output)

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	if f := strings.ToLower(cfg.Format); f == "console" || f == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	logger := zerolog.New(output).With().Timestamp()
	if cfg.AddSource {
		logger = logger.Caller()
	}
	log := logger.Logger()

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return log.Level(level)
}

func openOutput(dest string) io.Writer {
	switch strings.ToLower(dest) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout
	}
	return f
}

// parseLevel maps a configured level name to zerolog. "warning" is accepted
// as an alias; blank or unknown names mean info.
func parseLevel(level string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	l, err := zerolog.ParseLevel(name)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// WithTaskContext adds task fields to a logger.
func WithTaskContext(logger zerolog.Logger, taskID, owner string) zerolog.Logger {
	return logger.With().
		Str("task_id", taskID).
		Str("owner", owner).
		Logger()
}

// WithScanContext adds scan fields to a logger.
func WithScanContext(logger zerolog.Logger, scanID string, trigger string) zerolog.Logger {
	return logger.With().
		Str("scan_id", scanID).
		Str("trigger", trigger).
		Logger()
}

// WithCandidateContext adds candidate fields to a logger.
func WithCandidateContext(logger zerolog.Logger, externalID, source string) zerolog.Logger {
	return logger.With().
		Str("external_id", externalID).
		Str("source", source).
		Logger()
}

// LoggerFromContext enriches logger with the identifiers stored on ctx.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	lc := logger.With()
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		lc = lc.Str("correlation_id", id)
	}
	if id := ScanIDFromContext(ctx); id != "" {
		lc = lc.Str("scan_id", id)
	}
	if id := TaskIDFromContext(ctx); id != "" {
		lc = lc.Str("task_id", id)
	}
	if owner := OwnerFromContext(ctx); owner != "" {
		lc = lc.Str("owner", owner)
	}
	return lc.Logger()
}
