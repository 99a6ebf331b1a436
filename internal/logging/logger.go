package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger from the environment.
// FC_LOG_LEVEL controls the level: debug, info, warn, error (default: info).
// FC_LOG_FORMAT=json writes raw JSON lines (used in Lambda, where CloudWatch
// indexes the fields); anything else writes the human console format.
func Init() {
	InitTo(os.Stderr, os.Getenv("FC_LOG_LEVEL"), os.Getenv("FC_LOG_FORMAT"))
}

// InitTo is Init with explicit inputs. An explicit level from a flag or
// config file takes precedence over the environment when passed here.
func InitTo(w io.Writer, level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
