package aifallback

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// chainFile is the on-disk shape of an externally configured fallback
// chain, loaded via FallbackChainPath in internal/config.
type chainFile struct {
	Chain []ModelConfig `yaml:"chain"`
}

// LoadChain reads an ordered fallback chain from a YAML file. The file
// format is a top-level `chain:` list of entries with provider, modelName,
// enabled, and optional endpoint/apiKey fields.
func LoadChain(path string) ([]ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("aifallback: read chain file %s: %w", path, err)
	}

	var parsed chainFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("aifallback: parse chain file %s: %w", path, err)
	}

	return parsed.Chain, nil
}
