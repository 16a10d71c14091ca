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
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Supported SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
)

const (
	DefaultDatabaseMaxConns       = 10
	DefaultDatabaseMaxIdle        = 2
	DefaultDatabaseConnectTimeout = 5 * time.Second
	DefaultSQLitePath             = "./.sprout/sprout.db"
)

// DatabaseConfig is a named SQL connection. The sql ledger backend refers
// to one by name.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver" jsonschema:"title=Driver,enum=postgres,enum=mysql,enum=sqlite,enum=sqlite3,default=sqlite"`

	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Server hostname (unused for SQLite)"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,description=Server port (unused for SQLite)"`

	// Database is the database name, or the file path for SQLite.
	Database string `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"title=Database,description=Database name or SQLite file path"`

	Username string `yaml:"username,omitempty" json:"username,omitempty" jsonschema:"title=Username"`
	Password string `yaml:"password,omitempty" json:"password,omitempty" jsonschema:"title=Password,description=Use ${ENV_VAR}"`

	// SSLMode is passed to PostgreSQL as sslmode.
	SSLMode string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty" jsonschema:"title=SSL Mode,enum=disable,enum=require,enum=verify-ca,enum=verify-full"`

	MaxConns int `yaml:"max_conns,omitempty" json:"max_conns,omitempty" jsonschema:"title=Max Open Connections,minimum=1,default=10"`
	MaxIdle  int `yaml:"max_idle,omitempty" json:"max_idle,omitempty" jsonschema:"title=Max Idle Connections,minimum=1,default=2"`

	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty" jsonschema:"title=Connect Timeout,type=string,default=5s"`
}

// SetDefaults fills unset fields.
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.MaxConns == 0 {
		c.MaxConns = DefaultDatabaseMaxConns
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = DefaultDatabaseMaxIdle
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultDatabaseConnectTimeout
	}

	switch c.Driver {
	case DriverPostgres:
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case DriverMySQL:
		if c.Port == 0 {
			c.Port = 3306
		}
	case DriverSQLite, DriverSQLite3:
		if c.Database == "" {
			c.Database = DefaultSQLitePath
		}
	}
}

// Validate checks the connection settings.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverMySQL:
		if c.Host == "" {
			return fmt.Errorf("host is required for %s", c.Driver)
		}
	case DriverSQLite, DriverSQLite3:
	default:
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("max_conns and max_idle must be non-negative")
	}
	if c.MaxIdle > c.MaxConns && c.MaxConns > 0 {
		return fmt.Errorf("max_idle (%d) must not exceed max_conns (%d)", c.MaxIdle, c.MaxConns)
	}
	return nil
}

// IsSQLite reports whether the connection is a local SQLite file.
func (c *DatabaseConfig) IsSQLite() bool {
	return c.Driver == DriverSQLite || c.Driver == DriverSQLite3
}

// DSN returns the connection string for sql.Open.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:   "/" + c.Database,
		}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		q := url.Values{}
		if c.SSLMode != "" {
			q.Set("sslmode", c.SSLMode)
		}
		if c.ConnectTimeout > 0 {
			q.Set("connect_timeout", strconv.Itoa(max(1, int(c.ConnectTimeout/time.Second))))
		}
		u.RawQuery = q.Encode()
		return u.String()
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.ParseTime = true
		mc.Timeout = c.ConnectTimeout
		return mc.FormatDSN()
	case DriverSQLite, DriverSQLite3:
		if c.Database == ":memory:" {
			return c.Database
		}
		// go-sqlite3 applies these on every new connection.
		return "file:" + c.Database + "?_journal_mode=WAL&_busy_timeout=10000"
	default:
		return ""
	}
}

// DriverName is the name registered with database/sql.
func (c *DatabaseConfig) DriverName() string {
	if c.IsSQLite() {
		return DriverSQLite3
	}
	return c.Driver
}

// Dialect is the placeholder and upsert flavor the ledger generates SQL for.
func (c *DatabaseConfig) Dialect() string {
	if c.IsSQLite() {
		return DriverSQLite
	}
	return c.Driver
}
