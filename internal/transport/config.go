package transport

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GatewayDefinitions models the structure of configs/gateways.yaml.
type GatewayDefinitions struct {
	Default  string                       `yaml:"default"`
	Gateways map[string]GatewayDefinition `yaml:"gateways"`
}

// GatewayDefinition describes a single message gateway endpoint.
type GatewayDefinition struct {
	Type           string            `yaml:"type"`
	URL            string            `yaml:"url"`
	Description    string            `yaml:"description"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	RateLimit      float64           `yaml:"rate_limit"`
	Burst          int               `yaml:"burst"`
	Headers        map[string]string `yaml:"headers"`
}

// LoadGatewayDefinitions parses the YAML file containing gateway metadata.
func LoadGatewayDefinitions(path string) (GatewayDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return GatewayDefinitions{Gateways: map[string]GatewayDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return GatewayDefinitions{}, fmt.Errorf("read gateway definitions: %w", err)
	}

	var defs GatewayDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return GatewayDefinitions{}, fmt.Errorf("parse gateway definitions: %w", err)
	}
	if defs.Gateways == nil {
		defs.Gateways = map[string]GatewayDefinition{}
	}
	return defs, nil
}
