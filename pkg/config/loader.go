package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Validator is implemented by configuration structs that check cross-field
// rules after parsing.
type Validator interface {
	Validate() error
}

// Load parses environment variables into cfg using its `env` and
// `envDefault` tags, then runs cfg.Validate when cfg implements Validator.
func Load(cfg any) error {
	return LoadFrom(cfg, nil)
}

// LoadFrom is Load with an explicit environment. A nil environment reads the
// process environment.
func LoadFrom(cfg any, environ map[string]string) error {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}
	return nil
}
