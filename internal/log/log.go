// Package log provides the zerolog conventions shared by every component:
// a component-scoped logger bound once at construction, never a package
// global.
package log

import (
	"io"

	"github.com/rs/zerolog"
)

// Component returns a logger scoped to component, derived from base. If
// base is the zero value, logs are discarded — callers that don't care
// about attestation telemetry don't pay for it.
func Component(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// Nop returns a logger that discards everything, used as the default when
// a caller does not supply one.
func Nop() zerolog.Logger {
	return zerolog.New(io.Discard)
}
