// Package logging provides the structured logger used throughout ges,
// wrapping zerolog the way the ambient stack expects: one child logger
// per entity, pre-populated with stable fields (entity id, entity kind)
// so every line from a single entity's lifetime can be correlated
// without repeating those fields at each call site.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	baseOnce   sync.Once
	baseLogger zerolog.Logger
)

func base() zerolog.Logger {
	baseOnce.Do(func() {
		var w io.Writer = os.Stderr
		baseLogger = zerolog.New(w).With().Timestamp().Logger()
	})
	return baseLogger
}

// SetOutput redirects all future loggers built by this package to w.
// Intended for tests that want to capture log output.
func SetOutput(w io.Writer) {
	baseOnce.Do(func() {})
	baseLogger = zerolog.New(w).With().Timestamp().Logger()
}

// ForEntity returns a logger scoped to one running entity.
func ForEntity(kind string, id uuid.UUID) zerolog.Logger {
	return base().With().Str("entity_kind", kind).Str("entity_id", id.String()).Logger()
}

// Nop returns a logger that discards everything, for tests that don't
// care about log output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
