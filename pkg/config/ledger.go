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

package config

import (
	"fmt"
	"time"
)

// LedgerBackend identifies a usage counter backend.
type LedgerBackend string

const (
	// LedgerBackendMemory keeps counters in process memory (default).
	LedgerBackendMemory LedgerBackend = "memory"

	// LedgerBackendFile persists counters to a JSON file.
	LedgerBackendFile LedgerBackend = "file"

	// LedgerBackendSQL stores counters in a database from the databases section.
	LedgerBackendSQL LedgerBackend = "sql"

	// LedgerBackendEtcd stores counters in etcd.
	LedgerBackendEtcd LedgerBackend = "etcd"
)

// DefaultLedgerPath is the file backend's default location.
const DefaultLedgerPath = ".sprout/usage.json"

// LedgerConfig selects where usage counters live.
//
// Use sql or etcd when more than one instance shares provider credentials;
// memory and file only see their own process.
//
// Example:
//
//	databases:
//	  main:
//	    driver: postgres
//	    host: db
//	    database: sprout
//
//	ledger:
//	  backend: sql
//	  database: main
type LedgerConfig struct {
	// Backend is memory, file, sql, or etcd.
	// Default: memory
	Backend LedgerBackend `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,enum=memory,enum=file,enum=sql,enum=etcd,default=memory"`

	// Path is the JSON file for the file backend.
	// Default: .sprout/usage.json
	Path string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"title=Path,description=Ledger file for the file backend"`

	// Database references an entry in the databases section (sql backend).
	Database string `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"title=Database,description=Database name for the sql backend"`

	// Etcd configures the etcd backend.
	Etcd EtcdConfig `yaml:"etcd,omitempty" json:"etcd,omitempty" jsonschema:"title=Etcd"`

	// Metrics wraps the store with operation metrics when observability
	// metrics are enabled.
	// Default: true
	Metrics *bool `yaml:"metrics,omitempty" json:"metrics,omitempty" jsonschema:"title=Metrics,default=true"`
}

// EtcdConfig configures an etcd connection.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints,omitempty" json:"endpoints,omitempty" jsonschema:"title=Endpoints"`
	Prefix      string        `yaml:"prefix,omitempty" json:"prefix,omitempty" jsonschema:"title=Key Prefix,default=/sprout/usage"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty" jsonschema:"title=Dial Timeout,type=string,default=5s"`
	Username    string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string        `yaml:"password,omitempty" json:"password,omitempty"`
}

// SetDefaults applies default values to LedgerConfig.
func (c *LedgerConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = LedgerBackendMemory
	}
	if c.Backend == LedgerBackendFile && c.Path == "" {
		c.Path = DefaultLedgerPath
	}
	if c.Backend == LedgerBackendEtcd {
		if c.Etcd.Prefix == "" {
			c.Etcd.Prefix = "/sprout/usage"
		}
		if c.Etcd.DialTimeout == 0 {
			c.Etcd.DialTimeout = 5 * time.Second
		}
	}
	if c.Metrics == nil {
		c.Metrics = BoolPtr(true)
	}
}

// Validate checks the ledger configuration.
func (c *LedgerConfig) Validate() error {
	switch c.Backend {
	case LedgerBackendMemory:
	case LedgerBackendFile:
		if c.Path == "" {
			return fmt.Errorf("path is required when backend is file")
		}
	case LedgerBackendSQL:
		if c.Database == "" {
			return fmt.Errorf("database is required when backend is sql")
		}
	case LedgerBackendEtcd:
		if len(c.Etcd.Endpoints) == 0 {
			return fmt.Errorf("etcd.endpoints is required when backend is etcd")
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, file, sql, etcd)", c.Backend)
	}
	return nil
}

// IsShared reports whether the backend is visible to other instances.
func (c *LedgerConfig) IsShared() bool {
	return c.Backend == LedgerBackendSQL || c.Backend == LedgerBackendEtcd
}

// MetricsEnabled reports whether the store should be instrumented.
func (c *LedgerConfig) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}
