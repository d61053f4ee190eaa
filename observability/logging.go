package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevelEnv overrides the configured level when set.
const LogLevelEnv = "RENTLEDGER_LOG_LEVEL"

// NewLogger creates a structured JSON logger on stdout tagged with component.
// The level comes from RENTLEDGER_LOG_LEVEL, default info.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(os.Stdout, component, ParseLevel(os.Getenv(LogLevelEnv)))
}

// NewLoggerWithLevel creates a logger with an explicit writer and level.
func NewLoggerWithLevel(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLevel maps a config string to a zerolog level. Unknown values fall
// back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
