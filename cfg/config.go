// Copyright 2025 The xfs-spaceevac Authors.
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

// Package cfg defines the tool's layered configuration: defaults, then a
// YAML config file, then environment variables, then command-line flags,
// composed through viper.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration for one invocation.
type Config struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	Evacuate EvacuateConfig `yaml:"evacuate" mapstructure:"evacuate"`
}

// LoggingConfig controls where and how the tool logs.
type LoggingConfig struct {
	Severity  LogSeverity    `yaml:"severity" mapstructure:"severity"`
	Format    LogFormat      `yaml:"format" mapstructure:"format"`
	FilePath  ResolvedPath   `yaml:"file-path" mapstructure:"file-path"`
	LogRotate LogRotateConfig `yaml:"log-rotate" mapstructure:"log-rotate"`
}

// LogRotateConfig mirrors the knobs lumberjack.Logger exposes.
type LogRotateConfig struct {
	MaxFileSizeMb  int  `yaml:"max-file-size-mb" mapstructure:"max-file-size-mb"`
	BackupFileCount int `yaml:"backup-file-count" mapstructure:"backup-file-count"`
	Compress       bool `yaml:"compress" mapstructure:"compress"`
}

// EvacuateConfig holds the tunables for the evacuate subcommand that do
// not come from positional arguments.
type EvacuateConfig struct {
	Realtime    bool   `yaml:"realtime" mapstructure:"realtime"`
	TraceMask   string `yaml:"trace-mask" mapstructure:"trace-mask"`
	DisplayName string `yaml:"display-name" mapstructure:"display-name"`
}

// BindFlags registers every flag the configuration recognizes and wires
// each one to its viper key, so a value can come from the flag, an
// environment variable, or the config file, in that order of precedence.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", string(TextLogFormat), "Log output format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file. Empty means stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-size-mb", "", 512, "Log file size, in MiB, that triggers rotation.")
	if err = viper.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-size-mb")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-count", "", 10, "Number of rotated log files to retain; 0 retains all.")
	if err = viper.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-count")); err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Gzip rotated log files.")
	if err = viper.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress")); err != nil {
		return err
	}

	flagSet.BoolP("realtime", "", false, "Target the realtime volume instead of the primary data volume.")
	if err = viper.BindPFlag("evacuate.realtime", flagSet.Lookup("realtime")); err != nil {
		return err
	}

	flagSet.StringP("trace", "", "", `Comma-separated trace categories to log, or "all".`)
	if err = viper.BindPFlag("evacuate.trace-mask", flagSet.Lookup("trace")); err != nil {
		return err
	}

	flagSet.StringP("display-name", "", "", "Name used to label this run in logs and metrics.")
	if err = viper.BindPFlag("evacuate.display-name", flagSet.Lookup("display-name")); err != nil {
		return err
	}

	return nil
}
