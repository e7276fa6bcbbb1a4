// Package salog is the agent's logging wrapper around zerolog, adapted
// from the cluster agent's component-tagged logger to the instance
// lifecycle domain.
package salog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
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

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with a component name, e.g.
// "supervisor" or "container".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithInstance creates a child logger tagged with the instance's container
// name, the primary key of the instance record.
func WithInstance(containerName string) zerolog.Logger {
	return Logger.With().Str("container_name", containerName).Logger()
}

// WithContract creates a child logger tagged with a contract id.
func WithContract(contractID string) zerolog.Logger {
	return Logger.With().Str("contract_id", contractID).Logger()
}

// WithUser creates a child logger tagged with the host Linux username
// owning an instance.
func WithUser(username string) zerolog.Logger {
	return Logger.With().Str("username", username).Logger()
}

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

// Errorf logs a formatted error message, printf-style.
func Errorf(format string, args ...any) {
	Logger.Error().Msg(fmt.Sprintf(format, args...))
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
