package pricing

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// Load returns the built-in table overlaid with the TOML file at path, if any.
//
//	[openai]
//	default = { prompt_per_1k = 0.01, completion_per_1k = 0.03 }
//
//	[openai.models."gpt-4o"]
//	prompt_per_1k = 0.005
//	completion_per_1k = 0.015
func Load(path string) (*Table, error) {
	t := NewTable()
	if path == "" {
		return t, nil
	}

	var overrides map[string]Family
	md, err := toml.DecodeFile(path, &overrides)
	if err != nil {
		return nil, fmt.Errorf("pricing: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Warn().Str("path", path).Interface("keys", undecoded).Msg("Ignoring unknown pricing keys")
	}
	t.merge(overrides)

	log.Info().Str("path", path).Int("families", len(overrides)).Msg("💴 Pricing overrides loaded")
	return t, nil
}
