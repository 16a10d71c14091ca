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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/sprout"
	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/governor"
	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/observability"
	"github.com/kadirpekel/sprout/pkg/provider/gemini"
	"github.com/kadirpekel/sprout/pkg/provider/websearch"
	"github.com/kadirpekel/sprout/pkg/report"
	"github.com/kadirpekel/sprout/pkg/server"
	"github.com/kadirpekel/sprout/pkg/session"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config source and log changes. Ceilings still need a restart."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := &reloadWatcher{}
	cfg, loader, err := cli.loadConfig(ctx, config.WithOnChange(watcher.onChange))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	watcher.set(cfg)

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if cfg.Providers.TextGeneration.APIKey == "" {
		return fmt.Errorf("a Gemini API key is required: set providers.text_generation.api_key or GEMINI_API_KEY")
	}

	obs, err := observability.NewManager(ctx, cfg.Server.Observability)
	if err != nil {
		return err
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	dbPool := config.NewDBPool()
	defer dbPool.Close()

	store, err := openLedger(cfg, dbPool, obs.Metrics())
	if err != nil {
		return err
	}
	defer store.Close()

	var govOpts []governor.Option
	var sessOpts []session.Option
	if m := obs.Metrics(); m != nil {
		govOpts = append(govOpts, governor.WithRecorder(m))
		sessOpts = append(sessOpts, session.WithRecorder(m))
	}

	gov, err := governor.NewFromConfig(cfg.Quotas, store, govOpts...)
	if err != nil {
		return fmt.Errorf("failed to create usage governor: %w", err)
	}

	generator, err := gemini.New(gemini.FromConfig(cfg.Providers.TextGeneration))
	if err != nil {
		return fmt.Errorf("failed to create text generation adapter: %w", err)
	}

	sessOpts = append(sessOpts,
		session.WithEstimator(session.NewDefaultEstimator(cfg.Sessions.Tokenizer)),
		session.WithOutputBudget(int64(cfg.Providers.TextGeneration.MaxTokens)),
	)
	if cfg.Providers.WebSearch.IsEnabled() {
		searcher, err := websearch.New(websearch.FromConfig(cfg.Providers.WebSearch))
		if err != nil {
			return fmt.Errorf("failed to create web search adapter: %w", err)
		}
		sessOpts = append(sessOpts, session.WithSearcher(searcher))
	}

	sessions, err := session.NewManager(cfg.Sessions, cfg.Uploads, gov, generator, sessOpts...)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	srv := server.New(&cfg.Server, sessions, report.New(store, gov), server.WithObservability(obs))

	slog.Info("Sprout server ready",
		"address", srv.Address(),
		"model", generator.Model(),
		"web_search", cfg.Providers.WebSearch.IsEnabled(),
		"ledger", cfg.Ledger.Backend,
		"time_zone", cfg.Quotas.TimeZone,
		"version", sprout.GetVersion().Version,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return sessions.Run(gctx) })
	if c.Watch && loader != nil {
		g.Go(func() error {
			if err := loader.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("config watch: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	slog.Info("Sprout server stopped")
	return err
}

// openLedger creates the configured store, instrumented when metrics are on.
func openLedger(cfg *config.Config, pool *config.DBPool, metrics *observability.Metrics) (ledger.Store, error) {
	store, err := ledger.NewStoreFromConfig(cfg, pool)
	if err != nil {
		return nil, err
	}
	if metrics != nil {
		store = ledger.NewInstrumented(store, string(cfg.Ledger.Backend), metrics)
	}
	return store, nil
}

// reloadWatcher logs config reloads. The running components keep the
// configuration they were built with.
type reloadWatcher struct {
	mu      sync.Mutex
	current *config.Config
}

func (w *reloadWatcher) set(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = cfg
}

func (w *reloadWatcher) onChange(next *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return
	}
	if w.current.Quotas != next.Quotas {
		slog.Warn("Usage ceilings changed in config; restart to apply them",
			"time_zone", next.Quotas.TimeZone,
			"text_generation_daily", next.Quotas.TextGeneration.Daily,
			"text_generation_monthly", next.Quotas.TextGeneration.Monthly,
			"web_search_daily", next.Quotas.WebSearch.Daily,
			"web_search_monthly", next.Quotas.WebSearch.Monthly,
		)
		return
	}
	slog.Info("Config changed; restart to apply it")
}
