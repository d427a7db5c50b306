// Package logging sets up the process-wide zerolog logger, matching the
// teacher's cmd/polybot/main.go setup (ConsoleWriter in dev, level toggled
// by a Debug flag). Per §6 Environment, lines are ISO-8601-timestamped and
// level-prefixed (TRACE|DEBUG|INFO|WARN|ERROR) so the supervising wrapper
// can split ERROR to stderr and the rest to stdout.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. console=true uses a human-readable
// writer (local development); console=false emits structured JSON lines
// (production, so the wrapper script can grep on the level field).
func Setup(debug bool, console bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05Z07:00"})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}
