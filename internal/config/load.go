package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kconfmap "github.com/knadh/koanf/providers/confmap"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
)

// defaultLayer carries the one default koanf cannot express through a
// zero-valued struct field: retry.jitter defaults to true, and a zero bool
// is indistinguishable from an explicit false, so it is seeded before any
// file or env layer is merged.
var defaultLayer = map[string]interface{}{
	"retry.jitter": true,
}

// Load builds a Config from (in increasing precedence) built-in defaults,
// an optional YAML file, and PRISM_-prefixed environment variables, then
// fills every remaining zero-valued field via EnsureDefaults.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(kconfmap.Provider(defaultLayer, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(kfile.Provider(configPath), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", configPath, err)
		}
	} else {
		for _, fn := range []string{"prismd.yaml", "prismd.yml"} {
			if _, err := os.Stat(fn); err == nil {
				if err := k.Load(kfile.Provider(fn), kyaml.Parser()); err != nil {
					return nil, fmt.Errorf("config: load file %s: %w", fn, err)
				}
				break
			}
		}
	}

	if err := k.Load(kenv.Provider("PRISM_", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.EnsureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKeyReplacer(s string) string {
	s = strings.TrimPrefix(s, "PRISM_")
	return strings.ToLower(strings.ReplaceAll(s, "_", "."))
}
