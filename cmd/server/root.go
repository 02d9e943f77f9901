// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/telemetry"
)

type rootOptions struct {
	configDir string
	runtime   string
	debug     bool

	config   *cloud.Config
	closeLog func() error
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "place-saver",
		Short:         "Save the places mentioned in Instagram and Threads posts",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.closeLog != nil {
				return opts.closeLog()
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", envOr(cloud.EnvConfigFilePrefix, "configs"), "directory holding the .env TOML files")
	cmd.PersistentFlags().StringVar(&opts.runtime, "runtime", envOr(cloud.EnvConfigRuntime, "local"), "runtime overlay, reads .env.<runtime>.toml")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "log at debug level")

	cmd.AddCommand(
		newServeCommand(opts),
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newListsCommand(opts),
		newCommitCommand(opts),
	)
	return cmd
}

// load reads the configuration and sets up logging.
func (o *rootOptions) load() error {
	if err := os.Setenv(cloud.EnvConfigFilePrefix, o.configDir); err != nil {
		return err
	}
	if err := os.Setenv(cloud.EnvConfigRuntime, o.runtime); err != nil {
		return err
	}
	config := cloud.NewConfig()
	if err := cloud.LoadConfig(config); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	o.config = config

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	closeLog, err := telemetry.SetupLogging(config.Application.LogFile, level)
	if err != nil {
		return err
	}
	o.closeLog = closeLog
	slog.Debug("configuration loaded", "dir", o.configDir, "runtime", o.runtime)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
