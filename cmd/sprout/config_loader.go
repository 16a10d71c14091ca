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
	"fmt"
	"log/slog"
	"os"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/config/provider"
)

const defaultConfigFile = "sprout.yaml"

// loadConfig loads the configuration named by the global flags. With no
// --config and no sprout.yaml in the working directory it returns the
// zero-config defaults and a nil loader.
func (cli *CLI) loadConfig(ctx context.Context, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	path := cli.Config
	kind := provider.Type(cli.ConfigType)

	if kind == provider.TypeFile || kind == "" {
		if path == "" {
			if !fileExists(defaultConfigFile) {
				slog.Info("No config file found, using defaults", "looked_for", defaultConfigFile)
				cfg, err := config.ProcessConfigPipeline(&config.Config{})
				if err != nil {
					return nil, nil, err
				}
				return cfg, nil, cli.initLogger(&cfg.Logger)
			}
			path = defaultConfigFile
		}
		_ = config.LoadDotEnvForConfig(path)
	}

	cfg, loader, err := config.LoadConfig(ctx, provider.ProviderConfig{
		Type:      kind,
		Path:      path,
		Endpoints: cli.ConfigEndpoints,
		Token:     os.Getenv("CONSUL_HTTP_TOKEN"),
		Username:  os.Getenv("ETCD_USERNAME"),
		Password:  os.Getenv("ETCD_PASSWORD"),
	}, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if err := cli.initLogger(&cfg.Logger); err != nil {
		_ = loader.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
