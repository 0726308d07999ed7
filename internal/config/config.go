// Package config holds the explicit run configuration. Everything a
// component needs is constructed from here and passed in; no package reads
// the environment or ambient globals at call time, so tests can substitute
// fakes without touching the process environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for one sync run.
type Config struct {
	Airtable  AirtableConfig  `yaml:"airtable"`
	Shortener ShortenerConfig `yaml:"shortener"`
	AWS       AWSConfig       `yaml:"aws"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
}

// AirtableConfig configures the record store client.
type AirtableConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseID  string `yaml:"base_id"`
	BaseURL string `yaml:"base_url"`
}

// ShortenerConfig configures the link shortener client.
type ShortenerConfig struct {
	APIKey   string `yaml:"api_key"`
	DomainID string `yaml:"domain_id"`
	BaseURL  string `yaml:"base_url"`
}

// AWSConfig configures the object store and secret store.
type AWSConfig struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	PhotoPrefix     string `yaml:"photo_prefix"`
	ThumbnailPrefix string `yaml:"thumbnail_prefix"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

// SheetsConfig configures the spreadsheet mirror. Disabled unless enabled
// explicitly.
type SheetsConfig struct {
	Enabled          bool   `yaml:"enabled"`
	CredentialsFile  string `yaml:"credentials_file"`
	PetsKey          string `yaml:"pets_key"`
	AdoptionAppsKey  string `yaml:"adoption_apps_key"`
	ParticipantsKey  string `yaml:"participants_key"`
	OriginalOwnersKey string `yaml:"original_owners_key"`
}

// CleanupConfig gates the shortener link garbage collection.
type CleanupConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the production defaults. Credentials are expected
// from the config file or the environment.
func DefaultConfig() *Config {
	return &Config{
		Airtable: AirtableConfig{
			BaseURL: "https://api.airtable.com/v0",
		},
		Shortener: ShortenerConfig{
			BaseURL: "https://api.rebrandly.com/v1",
		},
		AWS: AWSConfig{
			Region:          "us-east-2",
			Bucket:          "dpa-media",
			PhotoPrefix:     "new-digs-photos/",
			ThumbnailPrefix: "new-digs-thumbnails/",
			PublicBaseURL:   "https://dpa-media.s3.us-east-2.amazonaws.com",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Validate checks that the credentials a run cannot start without are set.
func (c *Config) Validate() error {
	if c.Airtable.APIKey == "" {
		return fmt.Errorf("airtable api key is not configured")
	}
	if c.Airtable.BaseID == "" {
		return fmt.Errorf("airtable base id is not configured")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("AIRTABLE_API_KEY"); key != "" {
		c.Airtable.APIKey = key
	}
	if base := os.Getenv("AIRTABLE_BASE_ID"); base != "" {
		c.Airtable.BaseID = base
	}
	if key := os.Getenv("REBRANDLY_API_KEY"); key != "" {
		c.Shortener.APIKey = key
	}
	if id := os.Getenv("REBRANDLY_DOMAIN_ID"); id != "" {
		c.Shortener.DomainID = id
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		c.AWS.Region = region
	}
	if bucket := os.Getenv("NEWDIGS_BUCKET"); bucket != "" {
		c.AWS.Bucket = bucket
	}
}
