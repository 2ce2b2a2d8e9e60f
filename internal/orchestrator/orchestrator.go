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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/internal/broker"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/internal/dedup"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/internal/fognode"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/internal/ingest"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/internal/logging"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/internal/routing"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/discovery"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/metrics"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/runtime/docker"
)

// Deps are the external collaborators. New builds the real ones; tests
// pass fakes to Assemble.
type Deps struct {
	Registry  core.BrokerRegistry
	Runtime   core.Runtime
	Cache     core.DedupCache
	Publisher core.Publisher
	Dialer    broker.Dialer
}

// Orchestrator owns every component and their shutdown order.
type Orchestrator struct {
	cfg     *config.Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics

	Pool          *broker.Pool
	Nodes         *fognode.Manager
	Router        *routing.Router
	ingest        *ingest.Server
	metricsServer *metrics.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New connects to discovery, the dedup store, the container runtime and the
// outbound publisher. Anything opened before a failure is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	var (
		deps   Deps
		err    error
		opened []io.Closer
	)
	fail := func(err error) (*Orchestrator, error) {
		for i := len(opened) - 1; i >= 0; i-- {
			opened[i].Close()
		}
		return nil, err
	}

	deps.Registry, err = discovery.New(cfg.Discovery, logger.With("component", "discovery"))
	if err != nil {
		return fail(fmt.Errorf("discovery: %w", err))
	}
	if c, ok := deps.Registry.(io.Closer); ok {
		opened = append(opened, c)
	}

	deps.Cache, err = dedup.NewStore(cfg.Dedup, logger.With("component", "dedup"))
	if err != nil {
		return fail(fmt.Errorf("dedup: %w", err))
	}
	opened = append(opened, deps.Cache)

	rt, err := docker.New(ctx, cfg.Nodes.RuntimeSocket, logger.With("component", "runtime"))
	if err != nil {
		return fail(fmt.Errorf("container runtime: %w", err))
	}
	deps.Runtime = rt
	opened = append(opened, rt)

	deps.Publisher, err = Publishers(logger).New(cfg.Publisher)
	if err != nil {
		return fail(err)
	}
	if err := deps.Publisher.Connect(ctx); err != nil {
		return fail(fmt.Errorf("publisher %s: %w", deps.Publisher.Name(), err))
	}

	deps.Dialer = broker.NewPahoDialer(cfg.Brokers, logger.With("component", "mqtt"))

	return Assemble(cfg, deps, logger, metrics.New()), nil
}

// Assemble wires the components around already-open collaborators.
func Assemble(cfg *config.Config, deps Deps, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	m.WatchDedup(deps.Cache)

	nodes := fognode.NewManager(deps.Runtime, fognode.OptionsFromConfig(cfg.Nodes), logger.With("component", "fognode"), m)
	router := routing.NewRouter(
		nodes,
		deps.Cache,
		deps.Publisher,
		cfg.DefaultRegion,
		logger.With("component", "router"),
		logging.NewRouteLogger(logger.With("component", "route")),
		m,
	)
	pool := broker.NewPool(deps.Dialer, router, broker.Options{
		InitialBackoff: cfg.Brokers.InitialBackoff,
		MaxRetries:     cfg.Brokers.MaxRetries,
	}, logger.With("component", "broker"), m)

	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		metrics: m,
		Pool:    pool,
		Nodes:   nodes,
		Router:  router,
	}
	if cfg.Ingest.Port > 0 {
		o.ingest = ingest.New(cfg.Ingest, router, logger.With("component", "ingest"), m)
	}
	if cfg.Metrics.Addr != "" {
		o.metricsServer = metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, m, logger.With("component", "metrics"))
	}
	return o
}

// Run starts the listeners and background loops, blocks until ctx is
// cancelled, then shuts down within the configured timeout.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			o.metricsServer = nil
			o.Shutdown(context.Background())
			return fmt.Errorf("metrics server: %w", err)
		}
	}
	if o.ingest != nil {
		if err := o.ingest.Start(); err != nil {
			o.Shutdown(context.Background())
			return err
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.Pool.Run(ctx, o.deps.Registry, o.cfg.Discovery.Interval)
	}()
	go func() {
		defer wg.Done()
		o.Nodes.Run(ctx, o.cfg.Nodes.ProbeInterval)
	}()

	o.logger.Info("fog manager started",
		"discovery", o.deps.Registry.Name(),
		"publisher", o.deps.Publisher.Name(),
		"default_region", o.cfg.DefaultRegion,
	)

	<-ctx.Done()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), o.cfg.ShutdownTimeout)
	defer cancel()
	return o.Shutdown(shutdownCtx)
}

// Shutdown stops inbound traffic first, then outbound, then closes the
// stores. It is safe to call more than once.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		o.logger.Info("shutting down fog manager")
		start := time.Now()
		var errs []error

		if err := o.Pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("broker pool: %w", err))
		}
		if o.ingest != nil {
			if err := o.ingest.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("ingest: %w", err))
			}
		}
		if o.cfg.Nodes.StopOnShutdown {
			if err := o.Nodes.StopAll(ctx); err != nil {
				errs = append(errs, fmt.Errorf("fog nodes: %w", err))
			}
		}
		if err := o.deps.Publisher.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
		if err := o.deps.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dedup: %w", err))
		}
		if c, ok := o.deps.Registry.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("discovery: %w", err))
			}
		}
		if err := o.deps.Runtime.Close(); err != nil {
			errs = append(errs, fmt.Errorf("runtime: %w", err))
		}
		if o.metricsServer != nil {
			if err := o.metricsServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server: %w", err))
			}
		}

		o.shutdownErr = errors.Join(errs...)
		o.logger.Info("fog manager stopped", "elapsed", time.Since(start), "error", o.shutdownErr)
	})
	return o.shutdownErr
}

func (o *Orchestrator) Metrics() *metrics.Metrics { return o.metrics }
