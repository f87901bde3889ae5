package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// envPrefix introduces environment overrides: TWINRAVEN__SECTION__KEY.
const envPrefix = "TWINRAVEN__"

// Initialize loads, merges, and validates configuration. Precedence, lowest
// first: built-in defaults, then each given file in order (user defaults,
// project override), then environment overrides. Any validation failure is
// fatal before components initialize.
func Initialize(_ context.Context, files ...string) (*Config, error) {
	cfg := GetBuiltinConfig()

	for _, file := range files {
		layer, err := loadFile(file)
		if err != nil {
			if errors.Is(err, ErrConfigNotFound) {
				slog.Debug("Config file absent, skipping", "file", file)
				continue
			}
			return nil, err
		}
		if err := mergo.Merge(cfg, layer, mergo.WithOverride); err != nil {
			return nil, NewLoadError(file, err)
		}
		slog.Info("Loaded configuration layer", "file", file)
	}

	if err := applyEnvOverrides(cfg, os.Environ()); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	slog.Info("Configuration initialized",
		"mining_algorithm", cfg.Mining.Algorithm,
		"llm_model", cfg.LLM.Model,
		"api_enabled", cfg.API.Enabled)
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	var layer Config
	if err := yaml.Unmarshal(ExpandEnv(data), &layer); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return &layer, nil
}

// applyEnvOverrides rewrites individual keys from TWINRAVEN__SECTION__KEY
// variables, e.g. TWINRAVEN__LLM__MODEL=gpt-4o. The override is applied on
// the YAML representation so every field keeps its file syntax.
func applyEnvOverrides(cfg *Config, environ []string) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return err
	}

	changed := false
	for _, kv := range environ {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(kv[:eq], envPrefix)), "__")
		if len(path) < 2 {
			continue
		}
		setPath(tree, path, parseScalar(kv[eq+1:]))
		changed = true
		slog.Debug("Applied environment override", "key", strings.Join(path, "."))
	}
	if !changed {
		return nil
	}

	merged, err := yaml.Marshal(tree)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(merged, cfg)
}

func setPath(tree map[string]any, path []string, value any) {
	cur := tree
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

// parseScalar keeps overrides typed: booleans and numbers stay booleans and
// numbers, everything else stays a string.
func parseScalar(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
