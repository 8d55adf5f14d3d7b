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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/valpere/promptforge/internal/detector"
	"github.com/valpere/promptforge/internal/llm"
	"github.com/valpere/promptforge/internal/service"
	"github.com/valpere/promptforge/internal/store"
	"github.com/valpere/promptforge/internal/validator"
)

// openStore opens the configured database, creating the parent directory of a
// SQLite file when needed.
func openStore() (*store.Store, error) {
	dsn := cfg.Database.URL
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := store.New(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// buildService wires the configured model provider, the store and language
// checks into a refinement service.
func buildService(db *store.Store) (*service.Service, error) {
	invoker, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}

	return service.New(invoker, db, service.Config{
		CreatorModel:  cfg.Refine.CreatorModel,
		CriticModel:   cfg.Refine.CriticModel,
		Iterations:    cfg.Refine.Iterations,
		MaxIterations: cfg.Refine.MaxIterations,
		RunTimeout:    cfg.Refine.RunTimeout,
	},
		service.WithLogger(slog.Default()),
		service.WithLanguageCheck(detector.Shared(), validator.New(nil)),
	), nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
