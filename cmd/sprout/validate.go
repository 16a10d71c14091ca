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
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/sprout/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`

	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`

	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved, secrets masked)."`
}

func (c *ValidateCmd) Run() error {
	return c.run(context.Background(), os.Stdout, os.Stderr)
}

func (c *ValidateCmd) run(ctx context.Context, stdout, stderr io.Writer) error {
	_ = config.LoadDotEnvForConfig(c.Config)

	cfg, loader, err := config.LoadConfigFile(ctx, c.Config)
	if err != nil {
		return printLoadError(stdout, stderr, c.Format, c.Config, err)
	}
	defer loader.Close()

	if c.PrintConfig {
		return printExpandedConfig(stdout, c.Format, c.Config, redacted(cfg))
	}

	printSuccess(stdout, c.Format, c.Config)
	return nil
}

// ValidationError is one entry of the JSON report.
type ValidationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type jsonOutput struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func printLoadError(stdout, stderr io.Writer, format, file string, err error) error {
	switch format {
	case "json":
		printJSONResult(stdout, false, file, []ValidationError{{Type: "load", Message: err.Error()}})
	case "verbose":
		fmt.Fprintf(stderr, "Configuration Load Error\n")
		fmt.Fprintf(stderr, "========================\n\n")
		fmt.Fprintf(stderr, "File:    %s\n", file)
		fmt.Fprintf(stderr, "Error:   %s\n", err.Error())
	default:
		fmt.Fprintf(stderr, "%s: load error: %s\n", file, err.Error())
	}
	return fmt.Errorf("config load failed")
}

func printSuccess(stdout io.Writer, format, file string) {
	switch format {
	case "json":
		printJSONResult(stdout, true, file, nil)
	case "verbose":
		fmt.Fprintf(stdout, "Configuration Validation Successful\n")
		fmt.Fprintf(stdout, "===================================\n\n")
		fmt.Fprintf(stdout, "File:   %s\n", file)
		fmt.Fprintf(stdout, "Status: OK Valid\n")
	default:
		fmt.Fprintf(stdout, "%s: valid\n", file)
	}
}

func printExpandedConfig(stdout io.Writer, format, file string, cfg *config.Config) error {
	if format == "json" {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as JSON: %w", err)
		}
		return nil
	}

	fmt.Fprintf(stdout, "# Expanded Configuration from: %s\n", file)
	fmt.Fprintf(stdout, "# (defaults applied, env vars resolved)\n\n")

	encoder := yaml.NewEncoder(stdout)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config as YAML: %w", err)
	}
	return encoder.Close()
}

func printJSONResult(stdout io.Writer, valid bool, file string, errors []ValidationError) {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(jsonOutput{Valid: valid, File: file, Errors: errors}); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}

const mask = "********"

// redacted returns a shallow copy of cfg with credentials masked.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Providers.TextGeneration.APIKey != "" {
		out.Providers.TextGeneration.APIKey = mask
	}
	if out.Providers.WebSearch.APIKey != "" {
		out.Providers.WebSearch.APIKey = mask
	}
	if out.Ledger.Etcd.Password != "" {
		out.Ledger.Etcd.Password = mask
	}
	if len(cfg.Databases) > 0 {
		out.Databases = make(map[string]*config.DatabaseConfig, len(cfg.Databases))
		for name, db := range cfg.Databases {
			if db == nil {
				continue
			}
			cp := *db
			if cp.Password != "" {
				cp.Password = mask
			}
			out.Databases[name] = &cp
		}
	}
	return &out
}
