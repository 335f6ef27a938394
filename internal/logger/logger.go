// Package logger wraps github.com/rs/zerolog with the component-scoped
// sub-logger pattern: a single process-wide logger carries the service
// name, and each subsystem asks for a logger tagged with its own component
// field rather than reaching for a global singleton with ad-hoc fields.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide base logger, configured once by Initialize.
var Log zerolog.Logger

// Initialize sets up the global logger. level is a zerolog level name
// ("debug", "info", "warn", "error"); unrecognized values fall back to
// info. pretty selects human-readable console output over JSON.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "apprun-core").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

// Component returns a sub-logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

// Pool returns the worker pool's logger.
func Pool() zerolog.Logger { return Component("workerpool") }

// Worker returns a worker instance's logger, tagged with its id.
func Worker(id string) zerolog.Logger {
	return Log.With().Str("component", "worker").Str("worker_id", id).Logger()
}

// Plugin returns the plugin subsystem's logger.
func Plugin() zerolog.Logger { return Component("plugin") }

// Hrana returns the HRANA server's logger.
func Hrana() zerolog.Logger { return Component("hrana") }

// WS returns the WebSocket bridge's logger.
func WS() zerolog.Logger { return Component("websocket") }

// HTTP returns the request pipeline's logger.
func HTTP() zerolog.Logger { return Component("http") }
