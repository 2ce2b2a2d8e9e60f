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

package fognode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/metrics"
)

const (
	LabelRegion    = "region"
	LabelManagedBy = "managed-by"
	managedByValue = "fog-manager"
)

type Options struct {
	Image         string
	Network       string
	NamePrefix    string
	RestartPolicy string
	Env           map[string]string
	MQTTBroker    string
	MQTTPort      int
	IdleTimeout   time.Duration
}

func OptionsFromConfig(cfg config.NodeConfig) Options {
	return Options{
		Image:         cfg.Image,
		Network:       cfg.Network,
		NamePrefix:    cfg.NamePrefix,
		RestartPolicy: cfg.RestartPolicy,
		Env:           cfg.Env,
		MQTTBroker:    cfg.MQTTBroker,
		MQTTPort:      cfg.MQTTPort,
		IdleTimeout:   cfg.IdleTimeout,
	}
}

// Manager keeps at most one running fog node per region.
type Manager struct {
	runtime core.Runtime
	opts    Options
	table   *Table
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewManager(runtime core.Runtime, opts Options, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if opts.NamePrefix == "" {
		opts.NamePrefix = "fog_node_"
	}
	if opts.RestartPolicy == "" {
		opts.RestartPolicy = "on-failure"
	}
	return &Manager{
		runtime: runtime,
		opts:    opts,
		table:   NewTable(),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// ContainerName is the deterministic node name for region.
func (m *Manager) ContainerName(region string) string {
	var b strings.Builder
	b.WriteString(m.opts.NamePrefix)
	for _, r := range region {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// GetOrCreate returns the running node for region, starting, restarting,
// adopting or creating one as needed. Calls for one region are serialized;
// a Running node that is already attached costs no runtime calls.
func (m *Manager) GetOrCreate(ctx context.Context, region string) (*core.FogNode, error) {
	if region == "" {
		return nil, core.ErrEmptyRegion
	}

	s := m.table.slot(region)
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.node; n != nil && n.Status == core.NodeRunning {
		if !n.NetworkAttached {
			if err := m.attach(ctx, n); err != nil {
				return nil, err
			}
		}
		n.LastUsedAt = m.now()
		out := *n
		return &out, nil
	}

	n, err := m.ensure(ctx, s, region)
	if err != nil {
		return nil, err
	}
	n.LastUsedAt = m.now()
	out := *n
	return &out, nil
}

// ensure runs with s.mu held.
func (m *Manager) ensure(ctx context.Context, s *slot, region string) (*core.FogNode, error) {
	name := m.ContainerName(region)
	log := m.logger.With("region", region, "container", name)

	if s.node != nil && s.node.Status == core.NodeUnhealthy {
		log.Warn("restarting unhealthy fog node", "node_id", s.node.NodeID)
	}

	existing, err := m.find(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: region=%s list: %v", core.ErrNodeProvision, region, err)
	}

	if existing != nil {
		adopted := s.node == nil || s.node.NodeID != existing.ID
		if existing.Running() {
			if adopted {
				log.Info("adopting running container", "node_id", existing.ID)
			}
			n := m.track(s, region, *existing, adopted)
			n.NetworkAttached = m.onNetwork(*existing)
			if !n.NetworkAttached {
				if err := m.attach(ctx, n); err != nil {
					return nil, err
				}
			}
			return n, nil
		}

		m.setStatus(s, region, core.NodeStarting)
		err := m.runtime.Start(ctx, existing.ID)
		m.metrics.NodeOp("start", err)
		if err == nil {
			log.Info("started stopped container in place", "node_id", existing.ID, "previous_state", existing.State)
			n := m.track(s, region, *existing, adopted)
			n.NetworkAttached = m.onNetwork(*existing)
			if !n.NetworkAttached {
				if err := m.attach(ctx, n); err != nil {
					return nil, err
				}
			}
			return n, nil
		}

		log.Warn("start in place failed, recreating", "node_id", existing.ID, "error", err)
		rmErr := m.runtime.Remove(ctx, existing.ID)
		m.metrics.NodeOp("remove", rmErr)
		if rmErr != nil {
			m.forget(s, region)
			return nil, fmt.Errorf("%w: region=%s remove stale %s: %v", core.ErrNodeProvision, region, existing.ID, rmErr)
		}
	}

	return m.create(ctx, s, region, name)
}

func (m *Manager) create(ctx context.Context, s *slot, region, name string) (*core.FogNode, error) {
	m.setStatus(s, region, core.NodeStarting)

	info, err := m.runtime.Create(ctx, m.spec(region, name))
	m.metrics.NodeOp("create", err)
	if err != nil {
		m.forget(s, region)
		m.logger.Error("fog node creation failed", "region", region, "container", name, "error", err)
		return nil, fmt.Errorf("%w: region=%s create: %v", core.ErrNodeProvision, region, err)
	}

	err = m.runtime.Start(ctx, info.ID)
	m.metrics.NodeOp("start", err)
	if err != nil {
		rmErr := m.runtime.Remove(ctx, info.ID)
		m.metrics.NodeOp("remove", rmErr)
		m.forget(s, region)
		m.logger.Error("fog node start failed", "region", region, "container", name, "node_id", info.ID, "error", err)
		return nil, fmt.Errorf("%w: region=%s start: %v", core.ErrNodeProvision, region, err)
	}

	n := m.track(s, region, info, false)
	// Created directly on the shared network.
	n.NetworkAttached = true
	m.logger.Info("fog node created", "region", region, "container", name, "node_id", info.ID, "image", m.opts.Image)
	return n, nil
}

func (m *Manager) spec(region, name string) core.ContainerSpec {
	env := make(map[string]string, len(m.opts.Env)+4)
	for k, v := range m.opts.Env {
		env[k] = v
	}
	env["REGION"] = region
	env["FOG_REGION"] = region
	if m.opts.MQTTBroker != "" {
		env["MQTT_BROKER"] = m.opts.MQTTBroker
	}
	if m.opts.MQTTPort != 0 {
		env["MQTT_PORT"] = strconv.Itoa(m.opts.MQTTPort)
	}
	return core.ContainerSpec{
		Name:  name,
		Image: m.opts.Image,
		Env:   env,
		Labels: map[string]string{
			LabelRegion:    region,
			LabelManagedBy: managedByValue,
		},
		Network:       m.opts.Network,
		RestartPolicy: m.opts.RestartPolicy,
	}
}

func (m *Manager) find(ctx context.Context, name string) (*core.ContainerInfo, error) {
	found, err := m.runtime.List(ctx, core.ContainerFilter{Name: name})
	m.metrics.NodeOp("list", err)
	if err != nil {
		return nil, err
	}
	for i := range found {
		if found[i].Name == name {
			return &found[i], nil
		}
	}
	return nil, nil
}

func (m *Manager) onNetwork(info core.ContainerInfo) bool {
	return m.opts.Network == "" || info.OnNetwork(m.opts.Network)
}

// attach connects n to the shared network, retrying once.
func (m *Manager) attach(ctx context.Context, n *core.FogNode) error {
	if m.opts.Network == "" {
		n.NetworkAttached = true
		return nil
	}
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = m.runtime.ConnectNetwork(ctx, n.NodeID, m.opts.Network)
		m.metrics.NodeOp("network_connect", err)
		if err == nil {
			n.NetworkAttached = true
			m.logger.Info("fog node attached to network", "region", n.Region, "node_id", n.NodeID, "network", m.opts.Network)
			return nil
		}
		m.logger.Warn("network attach failed", "region", n.Region, "node_id", n.NodeID, "network", m.opts.Network, "attempt", attempt, "error", err)
	}
	n.NetworkAttached = false
	return fmt.Errorf("%w: region=%s network=%s: %v", core.ErrNetworkAttach, n.Region, m.opts.Network, err)
}

func (m *Manager) track(s *slot, region string, info core.ContainerInfo, adopted bool) *core.FogNode {
	now := m.now()
	if s.node == nil || s.node.NodeID != info.ID {
		created := info.Created
		if created.IsZero() {
			created = now
		}
		s.node = &core.FogNode{
			Region:    region,
			NodeID:    info.ID,
			Name:      info.Name,
			Adopted:   adopted,
			CreatedAt: created,
		}
	}
	s.node.Status = core.NodeRunning
	s.node.LastUsedAt = now
	m.metrics.SetNodeState(region, core.NodeRunning)
	return s.node
}

func (m *Manager) setStatus(s *slot, region string, status core.NodeStatus) {
	if s.node != nil {
		s.node.Status = status
	}
	m.metrics.SetNodeState(region, status)
}

func (m *Manager) forget(s *slot, region string) {
	s.node = nil
	m.metrics.SetNodeState(region, core.NodeAbsent)
}

// Stop stops and removes the tracked node for region and evicts it.
func (m *Manager) Stop(ctx context.Context, region string) error {
	s, ok := m.table.lookup(region)
	if !ok {
		return fmt.Errorf("%w: region=%s", core.ErrNodeNotFound, region)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.stopLocked(ctx, s, region)
}

func (m *Manager) stopLocked(ctx context.Context, s *slot, region string) error {
	n := s.node
	if n == nil {
		return fmt.Errorf("%w: region=%s", core.ErrNodeNotFound, region)
	}

	m.setStatus(s, region, core.NodeStopping)
	if err := m.runtime.Stop(ctx, n.NodeID); err != nil {
		m.metrics.NodeOp("stop", err)
		m.logger.Warn("fog node stop failed, removing anyway", "region", region, "node_id", n.NodeID, "error", err)
	} else {
		m.metrics.NodeOp("stop", nil)
	}

	err := m.runtime.Remove(ctx, n.NodeID)
	m.metrics.NodeOp("remove", err)
	if err != nil {
		m.setStatus(s, region, core.NodeUnhealthy)
		return fmt.Errorf("remove fog node region=%s id=%s: %w", region, n.NodeID, err)
	}

	n.Status = core.NodeRemoved
	s.node = nil
	m.metrics.SetNodeState(region, core.NodeRemoved)
	m.logger.Info("fog node removed", "region", region, "node_id", n.NodeID)
	return nil
}

// StopAll stops every tracked node and returns the joined errors.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for _, n := range m.Nodes() {
		if err := m.Stop(ctx, n.Region); err != nil && !errors.Is(err, core.ErrNodeNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nodes returns a copy of every tracked node ordered by region.
func (m *Manager) Nodes() []core.FogNode {
	return m.table.Snapshot()
}

// Node returns the tracked node for region, if any.
func (m *Manager) Node(region string) (core.FogNode, bool) {
	s, ok := m.table.lookup(region)
	if !ok {
		return core.FogNode{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.node == nil {
		return core.FogNode{}, false
	}
	return *s.node, true
}
