// Package config loads a TOML configuration file and then applies
// environment-variable overrides on top of it, composing
// github.com/BurntSushi/toml with github.com/caarlos0/env the way
// original_source/examples/counter-postgres/src/main.rs composes its
// configured/serde stack. Callers define their own struct (typically
// nesting a stores/pgx.Config or stores/nats.Config alongside
// entity-kind settings) with kebab-case `toml` tags and matching `env`
// tags, and pass it to Load.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Load decodes the TOML file at path into out, then overlays any
// environment variables declared via `env` struct tags on top of it. If
// path is empty, only the environment overlay runs, so a deployment can
// configure itself from the environment alone.
func Load[T any](path string, out *T) error {
	if path != "" {
		if _, err := toml.DecodeFile(path, out); err != nil {
			return fmt.Errorf("config: could not decode %s: %w", path, err)
		}
	}
	if err := env.Parse(out); err != nil {
		return fmt.Errorf("config: could not apply environment overrides: %w", err)
	}
	return nil
}

// MustLoad is Load, exiting the process on failure, so a main package's
// startup can stay a single line.
func MustLoad[T any](path string) *T {
	var out T
	if err := Load(path, &out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return &out
}
