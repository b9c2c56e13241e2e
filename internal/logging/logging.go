// Package logging wires the zerolog logger shared across the indexing
// pipeline and CLI (SPEC_FULL.md "AMBIENT STACK").
package logging

import (
	"io"

	"github.com/rs/zerolog"
)

// New builds the process logger. verbose raises the level from info to
// debug; quiet drops it to warn, matching check/check-hash's machine
// readable mode where info-level progress lines would pollute stdout
// scraping (errors still surface on stderr regardless).
func New(out io.Writer, verbose, quiet bool) zerolog.Logger {
	level := zerolog.InfoLevel

	switch {
	case quiet:
		level = zerolog.WarnLevel
	case verbose:
		level = zerolog.DebugLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
