package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithCoordinator creates a child logger with coordinator field
// (ob, wc, ttl, gc, cdc).
func WithCoordinator(coordinator string) zerolog.Logger {
	return Logger.With().Str("coordinator", coordinator).Logger()
}

// WithWorkspaceID enriches base with workspace_id. Unlike
// WithComponent/WithCoordinator it takes an existing logger rather
// than the global one, because every call site that needs it already
// has a coordinator- or component-scoped logger in hand and wants to
// add the row it's acting on, not start a fresh chain from Logger:
//
//	logger := log.WithWorkspaceID(log.WithCoordinator(c.Name()), w.ID)
func WithWorkspaceID(base zerolog.Logger, workspaceID string) zerolog.Logger {
	return base.With().Str("workspace_id", workspaceID).Logger()
}

// WithOpID enriches base with op_id, the same way WithWorkspaceID
// enriches with workspace_id.
func WithOpID(base zerolog.Logger, opID string) zerolog.Logger {
	return base.With().Str("op_id", opID).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
