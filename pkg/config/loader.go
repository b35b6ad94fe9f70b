// Package config parses environment variables into tagged structs.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg from the environment using its `env` and `envDefault`
// struct tags.
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}
