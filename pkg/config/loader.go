// Package config loads service configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Validator is implemented by configs that check their own invariants after
// parsing.
type Validator interface {
	Validate() error
}

// Load parses environment variables into the provided struct using its `env`
// tags. If the struct implements Validator, it is validated afterwards.
func Load(cfg any) error {
	return LoadWithPrefix(cfg, "")
}

// LoadWithPrefix is Load with every variable name prefixed, so a setting such
// as HTTP_PORT is read from CART_HTTP_PORT when prefix is "CART_".
func LoadWithPrefix(cfg any, prefix string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}
	return nil
}
