package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no LLM API key is configured anywhere in
// the precedence chain.
var ErrNoAPIKey = errors.New("no LLM API key configured")

// ResolveAPIKey returns the API key to use, checking the environment
// directly before falling back to the loaded config: env wins even over a
// config value that was itself populated from env by Load, since an
// operator's shell override should always take precedence over a stale
// config file.
func ResolveAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv("SWARM_LLM_API_KEY"); key != "" {
		return key, nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}

	if cfg != nil && cfg.LLM.APIKey != "" {
		key := os.ExpandEnv(cfg.LLM.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// MaskAPIKey returns a display-safe version of key, showing only its last
// four characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
