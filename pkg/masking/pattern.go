package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns are the secret shapes masked out of telemetry payloads
// before they are persisted.
var builtinPatterns = map[string]struct {
	Pattern     string
	Replacement string
}{
	"api_key": {
		Pattern:     `(?i)\b(api[_-]?key|apikey)["'\s:=]+[A-Za-z0-9_\-]{16,}`,
		Replacement: "***MASKED_API_KEY***",
	},
	"bearer_token": {
		Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-.~+/]{16,}=*`,
		Replacement: "***MASKED_BEARER_TOKEN***",
	},
	"password": {
		Pattern:     `(?i)\b(password|passwd|pwd)["'\s:=]+\S{6,}`,
		Replacement: "***MASKED_PASSWORD***",
	},
	"certificate": {
		Pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
		Replacement: "***MASKED_PRIVATE_KEY***",
	},
}

// compilePatterns compiles the built-in patterns. Invalid patterns are
// logged and skipped.
func compilePatterns() map[string]*CompiledPattern {
	out := make(map[string]*CompiledPattern, len(builtinPatterns))
	for name, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		out[name] = &CompiledPattern{Name: name, Regex: compiled, Replacement: p.Replacement}
	}
	return out
}
