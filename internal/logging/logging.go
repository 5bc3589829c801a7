package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// LevelForVerbosity maps the count of -v flags onto a log level. Warnings and errors are always
// shown, each -v reveals one more level of detail.
func LevelForVerbosity(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.WarnLevel
	case verbosity == 1:
		return zerolog.InfoLevel
	case verbosity == 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// New builds the logger handed to every component of a run. A verbosity above zero wins over
// the configured level; an empty or unknown level falls back to warn.
func New(w io.Writer, verbosity int, level string) zerolog.Logger {
	lvl := LevelForVerbosity(verbosity)
	if verbosity <= 0 && level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil && parsed != zerolog.NoLevel {
			lvl = parsed
		}
	}

	// the global level defaults to debug and would swallow trace events
	if lvl < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(lvl)
	}

	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: time.TimeOnly,
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
