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
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

// Run probes node health every interval and reaps idle nodes when an idle
// timeout is configured.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
			if m.opts.IdleTimeout > 0 {
				m.Reap(ctx)
			}
		}
	}
}

// Probe compares tracked Running nodes with what the runtime reports and
// marks missing or stopped containers Unhealthy. Regions busy provisioning
// are skipped.
func (m *Manager) Probe(ctx context.Context) {
	containers, err := m.runtime.List(ctx, core.ContainerFilter{
		Labels: map[string]string{LabelManagedBy: managedByValue},
	})
	m.metrics.NodeOp("list", err)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("node probe failed", "error", err)
		}
		return
	}
	byID := make(map[string]core.ContainerInfo, len(containers))
	for _, c := range containers {
		byID[c.ID] = c
	}

	m.table.each(func(region string, s *slot) bool {
		if !s.mu.TryLock() {
			return true
		}
		defer s.mu.Unlock()

		n := s.node
		if n == nil || n.Status != core.NodeRunning {
			return true
		}
		c, ok := byID[n.NodeID]
		if !ok {
			// The node may have been created after the listing was taken.
			fresh, err := m.find(ctx, n.Name)
			if err == nil && fresh != nil && fresh.ID == n.NodeID {
				c, ok = *fresh, true
			}
		}
		switch {
		case !ok:
			m.setStatus(s, region, core.NodeUnhealthy)
			m.logger.Warn("fog node container disappeared", "region", region, "node_id", n.NodeID)
		case !c.Running():
			m.setStatus(s, region, core.NodeUnhealthy)
			m.logger.Warn("fog node not running", "region", region, "node_id", n.NodeID, "state", c.State)
		case !m.onNetwork(c):
			n.NetworkAttached = false
			m.logger.Warn("fog node detached from network", "region", region, "node_id", n.NodeID, "network", m.opts.Network)
		}
		return true
	})
}

// Reap stops nodes that have seen no traffic for the idle timeout.
func (m *Manager) Reap(ctx context.Context) {
	cutoff := m.now().Add(-m.opts.IdleTimeout)
	m.table.each(func(region string, s *slot) bool {
		if !s.mu.TryLock() {
			return true
		}
		defer s.mu.Unlock()

		n := s.node
		if n == nil || n.Status != core.NodeRunning || !n.LastUsedAt.Before(cutoff) {
			return true
		}
		m.logger.Info("reaping idle fog node", "region", region, "node_id", n.NodeID, "idle_for", m.now().Sub(n.LastUsedAt))
		if err := m.stopLocked(ctx, s, region); err != nil {
			m.logger.Warn("idle reap failed", "region", region, "error", err)
		}
		return true
	})
}
