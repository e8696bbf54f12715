// Package logging builds the zerolog root logger shared by every component.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a root logger at the given level (one of debug/info/warn/error,
// case-insensitive; unknown values fall back to info) writing to stderr.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
