package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider loads the configuration from a YAML file
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the configuration from the YAML file with defaults
// applied and validated.
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}
	return Parse(cfgFile)
}

// Parse decodes YAML, fills defaults and validates.
func Parse(data []byte) (*ConfigData, error) {
	var c ConfigData
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads a YAML configuration file. An empty path returns Default().
func Load(path string) (*ConfigData, error) {
	if path == "" {
		c := Default()
		return &c, nil
	}
	return NewYAMLProvider(path).LoadConfig()
}

// Marshal encodes c as YAML.
func Marshal(c *ConfigData) ([]byte, error) {
	return yaml.Marshal(c)
}
