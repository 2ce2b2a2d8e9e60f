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

package metrics

import (
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fogmanager"

// Metrics holds every collector the control plane exports. A nil *Metrics
// is valid and records nothing, which keeps tests and tools free of wiring.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	MessagesForwarded *prometheus.CounterVec
	RouteDuration     prometheus.Histogram
	BrokerState       *prometheus.GaugeVec
	BrokerAttempts    *prometheus.CounterVec
	NodeState         *prometheus.GaugeVec
	NodeOperations    *prometheus.CounterVec
	DedupEntries      prometheus.GaugeFunc
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Uplinks received, by source broker region.",
			},
			[]string{"source"},
		),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Uplinks dropped, by reason (decode, duplicate, provision, network_attach, publish, ...).",
			},
			[]string{"reason", "class"},
		),
		MessagesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "forwarded_total",
				Help:      "Uplinks published to a fog node, by resolved region.",
			},
			[]string{"region"},
		),
		RouteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "route_duration_seconds",
				Help:      "Time from receipt to publish, including node provisioning.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		BrokerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "state",
				Help:      "Broker connection state (0=connecting, 1=subscribed, 2=disconnected, 3=failed).",
			},
			[]string{"region"},
		),
		BrokerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "connect_attempts_total",
				Help:      "Broker connect attempts, by region and result.",
			},
			[]string{"region", "result"},
		),
		NodeState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "state",
				Help:      "Fog node state (0=absent, 1=starting, 2=running, 3=unhealthy, 4=stopping, 5=removed).",
			},
			[]string{"region"},
		),
		NodeOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "operations_total",
				Help:      "Runtime operations issued for fog nodes, by operation and result.",
			},
			[]string{"operation", "result"},
		),
	}

	m.registry.MustRegister(
		m.MessagesReceived,
		m.MessagesDropped,
		m.MessagesForwarded,
		m.RouteDuration,
		m.BrokerState,
		m.BrokerAttempts,
		m.NodeState,
		m.NodeOperations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WatchDedup exports the cache size. Call once.
func (m *Metrics) WatchDedup(cache core.DedupCache) {
	if m == nil || cache == nil {
		return
	}
	m.DedupEntries = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "entries",
			Help:      "Keys currently held in the dedup window.",
		},
		func() float64 { return float64(cache.Len()) },
	)
	m.registry.MustRegister(m.DedupEntries)
}

func (m *Metrics) Received(source string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(source).Inc()
}

// Dropped counts a drop labelled by the error's reason and class.
func (m *Metrics) Dropped(err error) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(core.Reason(err), core.Classify(err).String()).Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues("duplicate", core.ClassInvalid.String()).Inc()
}

func (m *Metrics) Forwarded(region string, seconds float64) {
	if m == nil {
		return
	}
	m.MessagesForwarded.WithLabelValues(region).Inc()
	m.RouteDuration.Observe(seconds)
}

func (m *Metrics) SetBrokerState(region string, s core.ConnectionStatus) {
	if m == nil {
		return
	}
	m.BrokerState.WithLabelValues(region).Set(float64(s))
}

func (m *Metrics) ForgetBroker(region string) {
	if m == nil {
		return
	}
	m.BrokerState.DeleteLabelValues(region)
}

func (m *Metrics) ConnectAttempt(region string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BrokerAttempts.WithLabelValues(region, result).Inc()
}

func (m *Metrics) SetNodeState(region string, s core.NodeStatus) {
	if m == nil {
		return
	}
	m.NodeState.WithLabelValues(region).Set(float64(s))
}

func (m *Metrics) NodeOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.NodeOperations.WithLabelValues(op, result).Inc()
}
