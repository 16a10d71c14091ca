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

// Command sprout runs the plant-nursery chat assistant.
//
// Usage:
//
//	sprout serve --config sprout.yaml
//	sprout usage --config sprout.yaml
//	sprout validate sprout.yaml
//	sprout schema > sprout.schema.json
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/sprout"
	"github.com/kadirpekel/sprout/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the chat assistant server."`
	Usage    UsageCmd    `cmd:"" help:"Print current usage against the configured ceilings."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of the configuration."`

	Config          string   `short:"c" help:"Config file path, or key path for remote sources." placeholder:"PATH"`
	ConfigType      string   `name:"config-type" help:"Config source: file, consul, etcd, zookeeper." default:"file" enum:"file,consul,etcd,zookeeper"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Endpoints of the remote config source." sep:","`

	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)."`

	logCleanup func() `kong:"-"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(sprout.GetVersion())
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("sprout"),
		kong.Description("Sprout - plant nursery chat assistant with usage governance"),
		kong.UsageOnError(),
	)

	// Flags and env apply now; the config file's logger section is applied
	// once a command has loaded it.
	if err := cli.initLogger(nil); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cli.closeLog()

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
