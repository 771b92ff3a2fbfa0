package recipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a process template from a YAML file and validates it.
// The returned template must be treated as immutable for the life of the
// process; the engine never re-reads recipe shape mid-execution.
func Load(path string) (*ProcessTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read process template: %w", err)
	}
	var tmpl ProcessTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse process template %s: %w", path, err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// LoadOrDefault loads a template from path when it exists, otherwise the
// built-in default pipeline.
func LoadOrDefault(path string) (*ProcessTemplate, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
