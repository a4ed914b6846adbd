package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// ExtensionPolicy controls which provider-specific passthrough
// parameters survive conversion. Keys not on a provider's allow-list
// are dropped with a logged warning rather than forwarded blind.
type ExtensionPolicy struct {
	Providers map[string]ExtensionAllowList `yaml:"providers"`
}

// ExtensionAllowList is the set of permitted extension keys for one
// provider.
type ExtensionAllowList struct {
	Allow []string `yaml:"allow"`
}

// AllowedFor returns the allowed key set for a provider. Unknown
// providers get an empty set.
func (p *ExtensionPolicy) AllowedFor(provider string) map[string]bool {
	allowed := make(map[string]bool)
	if p == nil {
		return allowed
	}
	if list, ok := p.Providers[provider]; ok {
		for _, key := range list.Allow {
			allowed[key] = true
		}
	}
	return allowed
}

// DefaultExtensionPolicy returns the built-in allow-list used when no
// extensions file is present. It covers the common OpenAI-compatible
// sampling and accounting knobs.
func DefaultExtensionPolicy() *ExtensionPolicy {
	return &ExtensionPolicy{
		Providers: map[string]ExtensionAllowList{
			"openai": {
				Allow: []string{
					"frequency_penalty",
					"presence_penalty",
					"seed",
					"logit_bias",
					"logprobs",
					"top_logprobs",
					"user",
					"parallel_tool_calls",
				},
			},
		},
	}
}

// LoadExtensionPolicy reads the allow-list from a YAML file. A missing
// file falls back to the built-in default policy.
func LoadExtensionPolicy(path string) (*ExtensionPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("📝 Extensions file not found at %s, using built-in allow-list", path)
			return DefaultExtensionPolicy(), nil
		}
		return nil, fmt.Errorf("failed to read extensions file: %w", err)
	}

	var policy ExtensionPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse extensions file: %w", err)
	}

	if policy.Providers == nil {
		policy.Providers = make(map[string]ExtensionAllowList)
	}

	log.Printf("🔧 Loaded extension allow-list for %d providers from %s", len(policy.Providers), path)
	return &policy, nil
}
