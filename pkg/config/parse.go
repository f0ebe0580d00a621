package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseConfigYAML parses a Config from YAML bytes and validates it.
// Parsed values are overlaid on the defaults, so partial files work.
func ParseConfigYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ParseConfigYAMLString parses a Config from a YAML string and validates it.
func ParseConfigYAMLString(yamlText string) (*Config, error) {
	return ParseConfigYAML([]byte(yamlText))
}

// ParseCampaignYAML parses a Campaign from YAML bytes and validates it.
// Parsed values are overlaid on the defaults, so partial files work.
func ParseCampaignYAML(data []byte) (*Campaign, error) {
	cam := DefaultCampaign()
	if err := yaml.Unmarshal(data, cam); err != nil {
		return nil, fmt.Errorf("failed to parse campaign yaml: %w", err)
	}

	if err := validateCampaign(cam); err != nil {
		return nil, fmt.Errorf("invalid campaign: %w", err)
	}

	return cam, nil
}

// ParseCampaignYAMLString parses a Campaign from a YAML string and validates it.
func ParseCampaignYAMLString(yamlText string) (*Campaign, error) {
	return ParseCampaignYAML([]byte(yamlText))
}
