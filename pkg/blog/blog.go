// Package blog provides the structured logger shared by every core component.
package blog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured once by Init.
var Logger zerolog.Logger

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how Init configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Call once at process startup.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
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

// WithComponent returns a child logger tagged with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithAccount returns a child logger tagged with an account ID.
func WithAccount(accountID uint64) zerolog.Logger {
	return Logger.With().Uint64("account_id", accountID).Logger()
}

// WithObject returns a child logger tagged with an object ID.
func WithObject(objectID uint64) zerolog.Logger {
	return Logger.With().Uint64("object_id", objectID).Logger()
}

// WithDiscSet returns a child logger tagged with a disc set name.
func WithDiscSet(name string) zerolog.Logger {
	return Logger.With().Str("disc_set", name).Logger()
}

// WithPhase returns a child logger tagged with a checker phase name.
func WithPhase(phase string) zerolog.Logger {
	return Logger.With().Str("phase", phase).Logger()
}

func init() {
	// sane default so packages that log before Init (e.g. in tests) don't panic
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
