package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"helioflow/internal/domain"
)

// Config models helioflow.yml, the per-firm settings document.
type Config struct {
	Firm struct {
		ID           string `yaml:"id" json:"id"`
		Name         string `yaml:"name" json:"name"`
		StatusSchema string `yaml:"status_schema" json:"status_schema"`
	} `yaml:"firm" json:"firm"`
	Invoicing struct {
		URL            string `yaml:"url" json:"url"`
		Token          string `yaml:"token" json:"token"`
		TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	} `yaml:"invoicing" json:"invoicing"`
	Calendar struct {
		URL   string `yaml:"url" json:"url"`
		Token string `yaml:"token" json:"token"`
	} `yaml:"calendar" json:"calendar"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

// WebhookConfig is one notification endpoint fed from the event log.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

const fileName = "helioflow.yml"

// Path returns the config file location inside a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with hf firm config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Firm.ID == "" {
		return fmt.Errorf("config.firm.id is required")
	}
	if _, err := domain.ParseStatusSchema(c.Firm.StatusSchema); err != nil {
		return fmt.Errorf("config.firm.status_schema: %w", err)
	}
	if c.Invoicing.TimeoutSeconds < 0 {
		return fmt.Errorf("config.invoicing.timeout_seconds must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Schema returns the firm's validated status schema.
func (c *Config) Schema() domain.StatusSchema {
	schema, err := domain.ParseStatusSchema(c.Firm.StatusSchema)
	if err != nil {
		return domain.SchemaStandard
	}
	return schema
}

// Default returns the seed config for a new firm.
func Default(firmID string) *Config {
	cfg := &Config{}
	cfg.Firm.ID = firmID
	cfg.Firm.Name = firmID
	cfg.Firm.StatusSchema = string(domain.SchemaStandard)
	cfg.Invoicing.TimeoutSeconds = 10
	return cfg
}

// ToYAML serializes the config for export.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
