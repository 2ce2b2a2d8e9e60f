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

package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins"
)

// Publisher sends uplinks to a per-region subject. With QoS above zero each
// publish is followed by a flush so a dead server surfaces as an error.
type Publisher struct {
	url      string
	template string
	flush    bool
	username string
	password string
	timeout  time.Duration
	logger   *slog.Logger

	mu sync.RWMutex
	nc *natsgo.Conn
}

func New(cfg config.PublisherConfig, logger *slog.Logger) (core.Publisher, error) {
	url := cfg.URL
	if url == "" {
		url = natsgo.DefaultURL
	}
	return &Publisher{
		url:      url,
		template: cfg.TopicTemplate,
		flush:    cfg.QoS > 0,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

func (p *Publisher) Name() string { return "nats:" + p.url }
func (p *Publisher) Type() string { return "nats" }

func (p *Publisher) Connect(_ context.Context) error {
	opts := []natsgo.Option{
		natsgo.Name("fog-publisher-" + uuid.New().String()[:8]),
		natsgo.Timeout(p.timeout),
		natsgo.MaxReconnects(-1),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			p.logger.Warn("nats publisher disconnected", "url", p.url, "error", err)
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			p.logger.Info("nats publisher reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if p.username != "" {
		opts = append(opts, natsgo.UserInfo(p.username, p.password))
	}

	nc, err := natsgo.Connect(p.url, opts...)
	if err != nil {
		return fmt.Errorf("%w: nats connect: %v", core.ErrConnection, err)
	}
	p.mu.Lock()
	p.nc = nc
	p.mu.Unlock()
	p.logger.Info("nats publisher connected", "url", nc.ConnectedUrl())
	return nil
}

func (p *Publisher) Publish(ctx context.Context, region string, payload []byte) error {
	p.mu.RLock()
	nc := p.nc
	p.mu.RUnlock()
	if nc == nil || nc.IsClosed() {
		return core.ErrNotConnected
	}

	subject := plugins.DottedTopic(p.template, region)
	msg := natsgo.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set("Fog-Region", region)
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("subject=%s: %w", subject, err)
	}
	if p.flush {
		flushCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		if err := nc.FlushWithContext(flushCtx); err != nil {
			return fmt.Errorf("subject=%s flush: %w", subject, err)
		}
	}
	return nil
}

func (p *Publisher) Disconnect(_ context.Context) error {
	p.mu.Lock()
	nc := p.nc
	p.nc = nil
	p.mu.Unlock()
	if nc != nil {
		return nc.Drain()
	}
	return nil
}
