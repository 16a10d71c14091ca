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

package ledger

import (
	"fmt"
	"log/slog"

	"github.com/kadirpekel/sprout/pkg/config"
)

// NewStoreFromConfig creates the configured Store. The sql backend borrows
// its connection from pool, so the pool must outlive the store.
//
// Example config:
//
//	databases:
//	  main:
//	    driver: sqlite
//	    database: ./.sprout/sprout.db
//
//	ledger:
//	  backend: sql
//	  database: main
func NewStoreFromConfig(cfg *config.Config, pool *config.DBPool) (Store, error) {
	lc := cfg.Ledger

	var store Store
	switch lc.Backend {
	case config.LedgerBackendMemory, "":
		store = NewMemoryStore()

	case config.LedgerBackendFile:
		fs, err := NewFileStore(lc.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create file ledger: %w", err)
		}
		store = fs

	case config.LedgerBackendSQL:
		if pool == nil {
			return nil, fmt.Errorf("DBPool is required for the sql ledger backend")
		}
		dbCfg, ok := cfg.GetDatabase(lc.Database)
		if !ok {
			return nil, fmt.Errorf("database %q not found", lc.Database)
		}
		db, err := pool.Get(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}
		ss, err := NewSQLStore(db, dbCfg.Dialect())
		if err != nil {
			return nil, fmt.Errorf("failed to create SQL ledger: %w", err)
		}
		store = ss

	case config.LedgerBackendEtcd:
		es, err := NewEtcdStore(EtcdOptions{
			Endpoints:   lc.Etcd.Endpoints,
			Prefix:      lc.Etcd.Prefix,
			DialTimeout: lc.Etcd.DialTimeout,
			Username:    lc.Etcd.Username,
			Password:    lc.Etcd.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create etcd ledger: %w", err)
		}
		store = es

	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", lc.Backend)
	}

	slog.Info("Usage ledger ready", "backend", lc.Backend, "shared", lc.IsShared())
	return store, nil
}
