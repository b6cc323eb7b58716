package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns the process logger: JSON lines on stdout, or a console
// writer when PREDICT_LOG_FORMAT=console. The level comes from
// PREDICT_LOG_LEVEL until config overrides it.
func NewLogger(component string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(os.Getenv("PREDICT_LOG_FORMAT"), "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(ParseLogLevel(os.Getenv("PREDICT_LOG_LEVEL"))).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Component derives a child logger for one subsystem.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}

// ParseLogLevel accepts debug, info, warn and error. Anything else is info.
func ParseLogLevel(s string) zerolog.Level {
	switch lvl, err := zerolog.ParseLevel(strings.ToLower(s)); {
	case err != nil, s == "":
		return zerolog.InfoLevel
	case lvl < zerolog.DebugLevel || lvl > zerolog.ErrorLevel:
		return zerolog.InfoLevel
	default:
		return lvl
	}
}
