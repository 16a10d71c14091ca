// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the Sprout assistant configuration: usage ceilings,
// the ledger backend, session and upload limits, provider adapters and the
// HTTP server.
//
// Configuration is loaded once, defaulted, validated and then passed into
// constructors by value or pointer. Nothing in the process reads it from
// package-level state.
package config

import (
	"fmt"
	"sort"
)

// Config is the root configuration document.
type Config struct {
	Version string `yaml:"version,omitempty" json:"version,omitempty" jsonschema:"title=Version,description=Config format version"`
	Name    string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"title=Name,description=Deployment name shown in logs"`

	Logger LoggerConfig `yaml:"logger,omitempty" json:"logger,omitempty" jsonschema:"title=Logger"`

	// Databases are named SQL connections referenced by the ledger.
	Databases map[string]*DatabaseConfig `yaml:"databases,omitempty" json:"databases,omitempty" jsonschema:"title=Databases"`

	Quotas    QuotaConfig     `yaml:"quotas,omitempty" json:"quotas,omitempty" jsonschema:"title=Usage Ceilings"`
	Ledger    LedgerConfig    `yaml:"ledger,omitempty" json:"ledger,omitempty" jsonschema:"title=Usage Ledger"`
	Sessions  SessionConfig   `yaml:"sessions,omitempty" json:"sessions,omitempty" jsonschema:"title=Chat Sessions"`
	Uploads   UploadConfig    `yaml:"uploads,omitempty" json:"uploads,omitempty" jsonschema:"title=Uploads"`
	Providers ProvidersConfig `yaml:"providers,omitempty" json:"providers,omitempty" jsonschema:"title=Providers"`
	Server    ServerConfig    `yaml:"server,omitempty" json:"server,omitempty" jsonschema:"title=Server"`
}

// Default returns a zero-config setup with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// ProcessConfigPipeline applies defaults and validates cfg.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: config cannot be nil")
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: validation failed: %w", err)
	}

	return cfg, nil
}

// SetDefaults fills every unset field with its default.
func (c *Config) SetDefaults() {
	if c.Databases == nil {
		c.Databases = make(map[string]*DatabaseConfig)
	}
	for name := range c.Databases {
		if c.Databases[name] != nil {
			c.Databases[name].SetDefaults()
		}
	}

	c.Logger.SetDefaults()
	c.Quotas.SetDefaults()
	c.Ledger.SetDefaults()
	c.Sessions.SetDefaults()
	c.Uploads.SetDefaults()
	c.Providers.SetDefaults()
	c.Server.SetDefaults()
}

// Validate checks the whole document.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	for name, db := range c.Databases {
		if db == nil {
			return fmt.Errorf("databases.%s: empty definition", name)
		}
		if err := db.Validate(); err != nil {
			return fmt.Errorf("databases.%s: %w", name, err)
		}
	}

	if err := c.Quotas.Validate(); err != nil {
		return fmt.Errorf("quotas: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if c.Ledger.Backend == LedgerBackendSQL {
		if _, ok := c.GetDatabase(c.Ledger.Database); !ok {
			return fmt.Errorf("ledger: database %q not found (available: %v)", c.Ledger.Database, c.ListDatabases())
		}
	}
	if err := c.Sessions.Validate(); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	if err := c.Uploads.Validate(); err != nil {
		return fmt.Errorf("uploads: %w", err)
	}
	if err := c.Providers.Validate(); err != nil {
		return fmt.Errorf("providers: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// GetDatabase returns the named database definition.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	if !ok || db == nil {
		return nil, false
	}
	return db, true
}

// ListDatabases returns the configured database names, sorted.
func (c *Config) ListDatabases() []string {
	names := make([]string, 0, len(c.Databases))
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
