package config

import "os"

// ExpandEnv expands environment variables in YAML content using shell-style
// ${VAR} and $VAR syntax. Missing variables expand to empty string;
// validation catches required fields that end up empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
