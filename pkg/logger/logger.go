package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance shared by all docq components.
var Log zerolog.Logger

func init() {
	// Default to JSON output for production
	Log = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()

	// Pretty print for development if requested
	if os.Getenv("DOCQ_ENV") != "production" {
		Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// GetLogger returns the global logger instance
func GetLogger() zerolog.Logger {
	return Log
}
