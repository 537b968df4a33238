package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv overlays CFXBRIDGE_ environment variables onto target. Unset
// variables leave the existing values alone.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
