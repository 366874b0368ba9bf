// internal/testdef/loader.go

// Package testdef loads release test definitions from a YAML file.
package testdef

import (
	"fmt"
	"os"
	"path/filepath"

	"release-orchestrator/internal/domain"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const smokeTestKey = "smoke_test"

var validate = validator.New()

// Load reads the definitions file and returns the named test. With smoke set,
// the test's smoke_test mapping is deep-merged over the definition first.
// LocalDir is resolved relative to the directory of the file.
func Load(file, name string, smoke bool) (*domain.TestDefinition, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read test definitions %s: %w", file, err)
	}

	var entries []map[string]any
	if err := yaml.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse test definitions %s: %w", file, err)
	}

	var raw map[string]any
	for _, entry := range entries {
		if n, _ := entry["name"].(string); n == name {
			raw = entry
			break
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s in %s", domain.ErrTestNotFound, name, file)
	}

	smokeOverrides, _ := raw[smokeTestKey].(map[string]any)
	delete(raw, smokeTestKey)
	if smoke && smokeOverrides != nil {
		raw = DeepMerge(raw, smokeOverrides)
	}

	def, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode test %s: %w", name, err)
	}

	base, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory of %s: %w", file, err)
	}
	def.LocalDir = filepath.Join(base, def.LocalDir)

	if err := validate.Struct(def); err != nil {
		return nil, fmt.Errorf("invalid test definition %s: %w", name, err)
	}
	return def, nil
}

// DeepMerge returns base with override applied. Nested mappings are merged
// key by key, any other value in override replaces the one in base.
func DeepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		ov, ok := v.(map[string]any)
		bv, bok := out[k].(map[string]any)
		if ok && bok {
			out[k] = DeepMerge(bv, ov)
			continue
		}
		out[k] = v
	}
	return out
}

func decode(raw map[string]any) (*domain.TestDefinition, error) {
	b, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var def domain.TestDefinition
	if err := yaml.Unmarshal(b, &def); err != nil {
		return nil, err
	}
	return &def, nil
}
