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
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/promptforge/internal/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API. Refinement requests are handled concurrently, one
run per request.

Host and port default to server.host and server.port from the config.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "", "Host/IP to bind to (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port number (overrides config)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if h := strings.TrimSpace(serveHost); h != "" {
		cfg.Server.Host = h
	}
	if servePort != 0 {
		if servePort < 1 || servePort > 65535 {
			return fmt.Errorf("invalid port number: %d", servePort)
		}
		cfg.Server.Port = servePort
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := buildService(db)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	printServeInfo(cfg.Server.Addr(), cfg.APIPrefix)

	return server.Start(ctx, server.Options{
		Addr:         cfg.Server.Addr(),
		Prefix:       cfg.APIPrefix,
		AppName:      cfg.AppName,
		Version:      version,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
	}, svc, db)
}

func printServeInfo(addr, prefix string) {
	fmt.Printf("Starting %s on http://%s (provider %s)...\n", cfg.AppName, addr, cfg.LLM.Provider)
	fmt.Println("Endpoints:")
	fmt.Printf("  POST %s/prompt/refine  - Refine a prompt\n", prefix)
	fmt.Printf("  GET  %s/health         - Health check\n", prefix)
	fmt.Printf("  GET  %s/runs           - Recent runs\n", prefix)
	fmt.Printf("  GET  %s/runs/{id}      - Run with iterations\n", prefix)
	fmt.Printf("  GET  %s/prompts        - Prompt memory\n", prefix)
	fmt.Println("")
	fmt.Println("Press Ctrl+C to stop")
}
