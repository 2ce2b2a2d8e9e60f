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

package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins"
)

// Publisher sends uplinks to fog nodes over MQTT 3.1.1, one topic per
// region.
type Publisher struct {
	name     string
	broker   string
	template string
	qos      byte
	retain   bool
	username string
	password string
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	client paho.Client
}

func New(cfg config.PublisherConfig, logger *slog.Logger) (core.Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: publisher.url is required for mqtt", core.ErrInvalidConfig)
	}
	return &Publisher{
		name:     "mqtt:" + cfg.URL,
		broker:   cfg.URL,
		template: cfg.TopicTemplate,
		qos:      cfg.QoS,
		retain:   cfg.Retain,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

func (p *Publisher) Name() string { return p.name }
func (p *Publisher) Type() string { return "mqtt" }

func (p *Publisher) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(p.broker).
		SetClientID("fog-publisher-" + uuid.New().String()[:8]).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(p.timeout).
		SetOnConnectHandler(func(paho.Client) {
			p.logger.Info("mqtt publisher connected", "broker", p.broker)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt publisher connection lost", "broker", p.broker, "error", err)
		})
	if p.username != "" {
		opts.SetUsername(p.username).SetPassword(p.password)
	}

	client := paho.NewClient(opts)
	if err := p.wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("%w: mqtt publisher %s: %v", core.ErrConnection, p.broker, err)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	return nil
}

func (p *Publisher) Publish(ctx context.Context, region string, payload []byte) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil || !client.IsConnectionOpen() {
		return core.ErrNotConnected
	}

	topic := plugins.Topic(p.template, region)
	if err := p.wait(ctx, client.Publish(topic, p.qos, p.retain, payload)); err != nil {
		return fmt.Errorf("topic=%s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Disconnect(_ context.Context) error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
	return nil
}

func (p *Publisher) wait(ctx context.Context, tok paho.Token) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", p.timeout)
	}
}
