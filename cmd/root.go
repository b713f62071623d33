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

// Package cmd implements the xfs-spaceevac command-line tool.
package cmd

import (
	"fmt"
	"os"

	"github.com/johnpgarry/xfs-spaceevac/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error

	// Resolved is the fully-resolved configuration for this invocation,
	// populated by initConfig before any subcommand's RunE runs.
	Resolved cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "xfs-spaceevac",
	Short: "Evacuate live data and metadata from a physical byte range on an XFS filesystem",
	Long: `xfs-spaceevac drives the kernel's reverse-mapping, reflink, and
exchange-range primitives to empty a physical byte range of an XFS
filesystem, so a caller can shrink, discard, or defragment it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		return cfg.ValidateConfig(&Resolved)
	},
}

// Execute runs the command tree, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(evacuateCmd)
}

func initConfig() {
	viper.SetEnvPrefix("XFS_SPACEEVAC")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}

	decoderOpt := viper.DecodeHook(cfg.DecodeHook())
	unmarshalErr = viper.Unmarshal(&Resolved, decoderOpt)
}
