package ges

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type spawnOptions struct {
	kind   string
	logger *zerolog.Logger
	tracer trace.Tracer
}

// Option configures a call to Spawn.
type Option func(*spawnOptions)

// WithKind names the entity kind for logging and tracing. Defaults to
// "entity".
func WithKind(kind string) Option {
	return func(o *spawnOptions) { o.kind = kind }
}

// WithLogger overrides the logger used for this entity's lifetime.
// By default a logger scoped with entity_kind/entity_id fields is built
// from the package-wide base logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *spawnOptions) { o.logger = &logger }
}

// WithTracer overrides the OpenTelemetry tracer used for spawn and
// command spans. Defaults to otel.Tracer("ges"), which is a no-op until
// a global TracerProvider is configured.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *spawnOptions) { o.tracer = tracer }
}

func defaultSpawnOptions() spawnOptions {
	return spawnOptions{
		kind:   "entity",
		tracer: otel.Tracer("ges"),
	}
}
