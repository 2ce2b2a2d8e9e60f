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

package mqtt5

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins"
)

type Publisher struct {
	brokerURL string
	template  string
	qos       byte
	retain    bool
	username  string
	password  string
	timeout   time.Duration
	logger    *slog.Logger

	mu sync.RWMutex
	cm *autopaho.ConnectionManager
}

func New(cfg config.PublisherConfig, logger *slog.Logger) (core.Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: publisher.url is required for mqtt5", core.ErrInvalidConfig)
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("%w: mqtt5 url: %v", core.ErrInvalidConfig, err)
	}
	return &Publisher{
		brokerURL: cfg.URL,
		template:  cfg.TopicTemplate,
		qos:       cfg.QoS,
		retain:    cfg.Retain,
		username:  cfg.Username,
		password:  cfg.Password,
		timeout:   cfg.Timeout,
		logger:    logger,
	}, nil
}

func (p *Publisher) Name() string { return "mqtt5:" + p.brokerURL }
func (p *Publisher) Type() string { return "mqtt5" }

func (p *Publisher) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(p.brokerURL)
	if err != nil {
		return fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		ConnectTimeout:                p.timeout,
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			p.logger.Info("mqtt5 publisher connection up", "broker", p.brokerURL)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt5 publisher connect error", "broker", p.brokerURL, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "fog-publisher-" + uuid.New().String()[:8],
		},
	}
	if p.username != "" {
		cfg.ConnectUsername = p.username
		cfg.ConnectPassword = []byte(p.password)
	}

	// The manager lives until Disconnect, not until the caller's ctx ends.
	cm, err := autopaho.NewConnection(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return fmt.Errorf("mqtt5 connection: %w", err)
	}

	awaitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := cm.AwaitConnection(awaitCtx); err != nil {
		_ = cm.Disconnect(context.Background())
		return fmt.Errorf("%w: mqtt5 await connection: %v", core.ErrConnection, err)
	}

	p.mu.Lock()
	p.cm = cm
	p.mu.Unlock()
	return nil
}

func (p *Publisher) Publish(ctx context.Context, region string, payload []byte) error {
	p.mu.RLock()
	cm := p.cm
	p.mu.RUnlock()
	if cm == nil {
		return core.ErrNotConnected
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	topic := plugins.Topic(p.template, region)
	_, err := cm.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		QoS:     p.qos,
		Retain:  p.retain,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
		},
	})
	if err != nil {
		return fmt.Errorf("topic=%s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.cm = nil
	p.mu.Unlock()
	if cm != nil {
		return cm.Disconnect(ctx)
	}
	return nil
}
