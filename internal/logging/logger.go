package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger creates the root zerolog.Logger for the CLI. Output goes to
// stderr through the console writer so command output on stdout stays
// machine-readable.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(writer).With().Timestamp().Logger().Level(lvl)
}
