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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/governor"
	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/report"
)

// UsageCmd prints the admin usage table straight from the configured ledger.
type UsageCmd struct {
	JSON bool `help:"Print JSON instead of a table."`
}

func (c *UsageCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if cfg.Ledger.Backend == config.LedgerBackendMemory {
		fmt.Fprintln(os.Stderr, "note: the memory ledger lives inside the server process; this shows an empty ledger")
	}

	dbPool := config.NewDBPool()
	defer dbPool.Close()

	store, err := ledger.NewStoreFromConfig(cfg, dbPool)
	if err != nil {
		return err
	}
	defer store.Close()

	gov, err := governor.NewFromConfig(cfg.Quotas, store)
	if err != nil {
		return err
	}

	table, err := report.New(store, gov).Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	}
	return table.Render(os.Stdout)
}
