/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/promptforge/internal/config"
	"github.com/valpere/promptforge/internal/logging"
)

var version = "0.1.0"

var (
	cfgFile  string
	logLevel string

	// cfg is loaded once per invocation by rootCmd's PersistentPreRunE.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "promptforge",
	Short: "Iterative prompt refinement with creator and critic models",
	Long: `PromptForge improves a prompt by alternating two model roles: a creator
rewrites the prompt and a critic scores the rewrite. The loop runs for a
bounded number of iterations and every iteration is stored.

Use "promptforge refine --help" to refine a single prompt,
"promptforge serve --help" to run the HTTP API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}

		logger, err := logging.New(loaded.Log.Level, loaded.Log.Format, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		if loaded.File != "" {
			logger.Debug("config loaded", "file", loaded.File)
		}

		cfg = loaded
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./promptforge.yaml, then ~/.config/promptforge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
}
