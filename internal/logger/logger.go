// Package logger holds the process-wide structured logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var consoleOut = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance. Setup replaces it once the
// configuration is known.
var Logger = zerolog.New(consoleOut).
	With().Timestamp().Logger().
	Level(zerolog.InfoLevel)

// Setup configures the global logger. An unknown level falls back to info.
func Setup(level string, console bool) {
	var out io.Writer = os.Stdout
	if console {
		out = consoleOut
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	Logger = zerolog.New(out).
		With().Timestamp().Logger().
		With().Caller().Logger().
		Level(lvl)
}

// Named returns a child logger tagged with a component name.
func Named(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
