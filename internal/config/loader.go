package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader builds a Config with the precedence ENV > file > defaults.
type Loader struct {
	path string
}

// NewLoader creates a Loader for the optional YAML file at path.
// An empty path skips the file layer entirely.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load assembles the effective configuration and validates it.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.path != "" {
		fileCfg, err := readFile(l.path)
		if err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", l.path, err)
		}
		cfg = fileCfg
	}

	cfg = FromEnv(cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// readFile unmarshals the YAML file at path on top of the defaults, so
// omitted keys keep their baseline values.
func readFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}
