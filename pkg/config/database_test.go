package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseDefaults(t *testing.T) {
	pg := &DatabaseConfig{Driver: DriverPostgres, Host: "db", Database: "sprout"}
	pg.SetDefaults()
	assert.Equal(t, 5432, pg.Port)
	assert.Equal(t, "disable", pg.SSLMode)
	assert.Equal(t, DefaultDatabaseMaxConns, pg.MaxConns)
	assert.NoError(t, pg.Validate())

	lite := &DatabaseConfig{}
	lite.SetDefaults()
	assert.Equal(t, DriverSQLite, lite.Driver)
	assert.Equal(t, DefaultSQLitePath, lite.Database)
	assert.True(t, lite.IsSQLite())
	assert.Equal(t, DriverSQLite3, lite.DriverName())
	assert.Equal(t, DriverSQLite, lite.Dialect())
}

func TestDatabaseDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres escapes credentials",
			cfg: DatabaseConfig{
				Driver: DriverPostgres, Host: "db", Port: 5432, Database: "sprout",
				Username: "app", Password: "p@ss word", SSLMode: "require", ConnectTimeout: 3 * time.Second,
			},
			want: "postgres://app:p%40ss%20word@db:5432/sprout?connect_timeout=3&sslmode=require",
		},
		{
			name: "mysql",
			cfg: DatabaseConfig{
				Driver: DriverMySQL, Host: "db", Port: 3306, Database: "sprout",
				Username: "app", Password: "secret",
			},
			want: "app:secret@tcp(db:3306)/sprout?parseTime=true",
		},
		{
			name: "sqlite file",
			cfg:  DatabaseConfig{Driver: DriverSQLite, Database: "data/usage.db"},
			want: "file:data/usage.db?_journal_mode=WAL&_busy_timeout=10000",
		},
		{
			name: "sqlite memory",
			cfg:  DatabaseConfig{Driver: DriverSQLite3, Database: ":memory:"},
			want: ":memory:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestDBPoolSharesHandles(t *testing.T) {
	cfg := &DatabaseConfig{Driver: DriverSQLite, Database: filepath.Join(t.TempDir(), "nested", "sprout.db")}
	cfg.SetDefaults()

	pool := NewDBPool()
	a, err := pool.Get(cfg)
	require.NoError(t, err)
	b, err := pool.Get(cfg)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, pool.Len())

	require.NoError(t, pool.Close())
	assert.Equal(t, 0, pool.Len())

	_, err = pool.Get(nil)
	assert.Error(t, err)
}
