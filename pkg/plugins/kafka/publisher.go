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

package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins"
)

// Publisher writes each uplink to a per-region topic keyed by region, so
// one region's uplinks stay on one partition.
type Publisher struct {
	brokers  []string
	template string
	acks     kafka.RequiredAcks
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	writer *kafka.Writer
}

func New(cfg config.PublisherConfig, logger *slog.Logger) (core.Publisher, error) {
	brokers := splitBrokers(cfg.URL)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: publisher.url must list kafka brokers", core.ErrInvalidConfig)
	}
	return &Publisher{
		brokers:  brokers,
		template: cfg.TopicTemplate,
		acks:     acksForQoS(cfg.QoS),
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		b = strings.TrimSpace(strings.TrimPrefix(b, "kafka://"))
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

// acksForQoS maps MQTT-style QoS onto producer acks.
func acksForQoS(qos byte) kafka.RequiredAcks {
	switch qos {
	case 0:
		return kafka.RequireNone
	case 1:
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

func (p *Publisher) Name() string { return "kafka:" + strings.Join(p.brokers, ",") }
func (p *Publisher) Type() string { return "kafka" }

func (p *Publisher) Connect(ctx context.Context) error {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           p.acks,
		AllowAutoTopicCreation: true,
		WriteTimeout:           p.timeout,
		BatchTimeout:           10 * time.Millisecond,
	}
	p.mu.Lock()
	p.writer = w
	p.mu.Unlock()

	p.logger.Info("kafka publisher ready",
		"brokers", strings.Join(p.brokers, ","),
		"topic_template", p.template,
		"acks", int(p.acks),
	)
	return nil
}

func (p *Publisher) Publish(ctx context.Context, region string, payload []byte) error {
	p.mu.RLock()
	w := p.writer
	p.mu.RUnlock()
	if w == nil {
		return core.ErrNotConnected
	}

	topic := plugins.DottedTopic(p.template, region)
	return w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(region),
		Value: payload,
		Time:  time.Now(),
	})
}

func (p *Publisher) Disconnect(_ context.Context) error {
	p.mu.Lock()
	w := p.writer
	p.writer = nil
	p.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}
