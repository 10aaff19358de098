package infra

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger passed between packages.
type Logger = zerolog.Logger

// NewLogger builds the process logger. Development gets a console writer and
// debug level; elsewhere output is JSON at info. A non-empty level overrides
// either default.
func NewLogger(appEnv, level string) zerolog.Logger {
	zerolog.DurationFieldUnit = time.Millisecond

	lvl := zerolog.InfoLevel
	if appEnv == "development" {
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}

	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", "quizora").Logger()
	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}
