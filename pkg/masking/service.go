// Package masking removes sensitive values from telemetry payloads before
// they reach the event store.
package masking

import "log/slog"

// Service applies data masking to input parameter trees and output
// summaries. Created once at startup; thread-safe and stateless aside from
// compiled patterns.
type Service struct {
	enabled  bool
	patterns map[string]*CompiledPattern
	maskers  []Masker
}

// NewService creates a masking service with eagerly compiled patterns.
func NewService(enabled bool, extra ...Masker) *Service {
	s := &Service{
		enabled:  enabled,
		patterns: compilePatterns(),
		maskers:  extra,
	}
	if enabled {
		slog.Info("Masking service initialized",
			"compiled_patterns", len(s.patterns), "code_maskers", len(s.maskers))
	}
	return s
}

// MaskString applies every pattern and masker to one string value.
func (s *Service) MaskString(data string) string {
	if !s.enabled || data == "" {
		return data
	}
	for _, cp := range s.patterns {
		data = cp.Regex.ReplaceAllString(data, cp.Replacement)
	}
	for _, m := range s.maskers {
		if m.AppliesTo(data) {
			data = m.Mask(data)
		}
	}
	return data
}

// MaskParams walks a parameter tree and masks every string leaf. The input
// tree is not modified; a masked copy is returned.
func (s *Service) MaskParams(params map[string]any) map[string]any {
	if !s.enabled || params == nil {
		return params
	}
	return s.maskMap(params)
}

func (s *Service) maskMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = s.maskValue(v)
	}
	return out
}

func (s *Service) maskValue(v any) any {
	switch x := v.(type) {
	case string:
		return s.MaskString(x)
	case map[string]any:
		return s.maskMap(x)
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = s.maskValue(elem)
		}
		return out
	default:
		return v
	}
}
