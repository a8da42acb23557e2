package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Global logger instance
var (
	Log zerolog.Logger
)

// Initialize sets up the global logger with configuration
func Initialize(level string, pretty bool) {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	// Configure output format
	if pretty {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	// Set global logger
	Log = log.With().
		Str("service", "phoenixbridge").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("Logger initialized")
}

// GetLogger returns the global logger instance
func GetLogger() *zerolog.Logger {
	return &Log
}

// Channel creates a logger for routing-table / controller events
func Channel() *zerolog.Logger {
	l := Log.With().Str("component", "channel").Logger()
	return &l
}

// Session creates a logger for connection-session (sender/receiver/relay) events
func Session() *zerolog.Logger {
	l := Log.With().Str("component", "session").Logger()
	return &l
}

// Bus creates a logger for external pub/sub bus events
func Bus() *zerolog.Logger {
	l := Log.With().Str("component", "bus").Logger()
	return &l
}

// Protocol creates a logger for codec/dispatch events
func Protocol() *zerolog.Logger {
	l := Log.With().Str("component", "protocol").Logger()
	return &l
}

// HTTP creates a logger for HTTP request events
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}
