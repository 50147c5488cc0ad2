package probe

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger returns a colorized, timestamped console logger suitable for
// callers that don't want to wire up their own slog handler. The probe
// manager, Pinger, and Tracer never construct one themselves — every
// constructor here takes a *slog.Logger and falls back to a silent
// discard handler when nil, so this is opt-in sugar for callers only.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
