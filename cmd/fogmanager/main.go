// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/internal/orchestrator"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
)

func main() {
	var (
		configPath string
		logLevel   string
	)
	pflag.StringVarP(&configPath, "config", "c", envOr("CONFIG_PATH", "/etc/fogmanager/config.yaml"), "path to the YAML configuration")
	pflag.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", configPath, err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, err := orchestrator.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start fog manager", "config", configPath, "error", err)
		os.Exit(1)
	}

	if err := orch.Run(ctx); err != nil {
		logger.Error("fog manager stopped with errors", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
