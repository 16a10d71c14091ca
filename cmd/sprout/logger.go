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
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/logger"
)

const (
	LogFileEnvVar   = "LOG_FILE"
	LogLevelEnvVar  = "LOG_LEVEL"
	LogFormatEnvVar = "LOG_FORMAT"

	DefaultLogLevel  = "info"
	DefaultLogFormat = logger.FormatSimple
)

type logSettings struct {
	level  string
	file   string
	format string
}

// resolveLogSettings picks each setting by priority: CLI flag > env var >
// config file > default.
func resolveLogSettings(cli *CLI, cfg *config.LoggerConfig) logSettings {
	var fromCfg logSettings
	if cfg != nil {
		fromCfg = logSettings{level: cfg.Level, file: cfg.File, format: cfg.Format}
	}
	return logSettings{
		level:  firstNonEmpty(cli.LogLevel, os.Getenv(LogLevelEnvVar), fromCfg.level, DefaultLogLevel),
		file:   firstNonEmpty(cli.LogFile, os.Getenv(LogFileEnvVar), fromCfg.file),
		format: firstNonEmpty(cli.LogFormat, os.Getenv(LogFormatEnvVar), fromCfg.format, DefaultLogFormat),
	}
}

// initLogger (re)installs the process logger.
func (cli *CLI) initLogger(cfg *config.LoggerConfig) error {
	s := resolveLogSettings(cli, cfg)

	level, err := logger.ParseLevel(s.level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer = os.Stderr
	var cleanup func()
	if s.file != "" {
		file, closeFn, err := logger.OpenLogFile(s.file)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = closeFn
	}

	logger.Init(level, output, s.format)

	cli.closeLog()
	cli.logCleanup = cleanup
	return nil
}

func (cli *CLI) closeLog() {
	if cli.logCleanup != nil {
		cli.logCleanup()
		cli.logCleanup = nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
