// Package logging configures the global zerolog logger shared by the
// upgrade driver and the CLI commands. All output goes to stderr so the
// generated reports on stdout stay clean.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global level and the console writer. Debug level exposes
// the per-attempt strategy and agent phase traces.
func Init(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}
