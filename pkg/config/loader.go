package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads path (if it exists), environment-expands it, merges it onto
// the built-in defaults, applies the spec §6.5 environment overrides, and
// validates the result. A missing file is not an error — Load falls back
// to pure defaults plus environment overrides, which is enough to run with
// a File backend out of the box.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = ExpandEnv(data)
			var loaded Config
			if err := yaml.Unmarshal(data, &loaded); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			if err := mergo.Merge(cfg, &loaded, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merge %s onto defaults: %w", path, err)
			}
		case os.IsNotExist(err):
			slog.Info("config file not found, using defaults", "path", path)
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
