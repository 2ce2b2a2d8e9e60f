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

package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins"
)

const defaultExchange = "fog"

// Publisher routes uplinks through a topic exchange with the region in the
// routing key. QoS above zero turns on publisher confirms; retain maps to
// persistent delivery.
type Publisher struct {
	url      string
	exchange string
	template string
	confirm  bool
	retain   bool
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func New(cfg config.PublisherConfig, logger *slog.Logger) (core.Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: publisher.url is required for rabbitmq", core.ErrInvalidConfig)
	}
	exchange := cfg.Options["exchange"]
	if exchange == "" {
		exchange = defaultExchange
	}
	return &Publisher{
		url:      cfg.URL,
		exchange: exchange,
		template: cfg.TopicTemplate,
		confirm:  cfg.QoS > 0,
		retain:   cfg.Retain,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

func (p *Publisher) Name() string { return "rabbitmq:" + p.exchange }
func (p *Publisher) Type() string { return "rabbitmq" }

func (p *Publisher) Connect(ctx context.Context) error {
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial:       amqp.DefaultDial(p.timeout),
		Properties: amqp.Table{"connection_name": "fog-publisher-" + uuid.New().String()[:8]},
	})
	if err != nil {
		return fmt.Errorf("%w: rabbitmq dial: %v", core.ErrConnection, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq publish channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq exchange declare %s: %w", p.exchange, err)
	}
	if p.confirm {
		if err := ch.Confirm(false); err != nil {
			conn.Close()
			return fmt.Errorf("rabbitmq confirm mode: %w", err)
		}
	}

	p.mu.Lock()
	p.conn, p.ch = conn, ch
	p.mu.Unlock()

	p.logger.Info("rabbitmq publisher connected", "exchange", p.exchange, "confirm", p.confirm)
	return nil
}

func (p *Publisher) Publish(ctx context.Context, region string, payload []byte) error {
	// amqp channels are not safe for concurrent publishing with confirms.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return core.ErrNotConnected
	}

	mode := amqp.Transient
	if p.retain {
		mode = amqp.Persistent
	}
	key := plugins.DottedTopic(p.template, region)
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		Timestamp:    time.Now(),
		MessageId:    uuid.New().String(),
		Body:         payload,
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if !p.confirm {
		return p.ch.PublishWithContext(pubCtx, p.exchange, key, false, false, msg)
	}
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(pubCtx, p.exchange, key, false, false, msg)
	if err != nil {
		return err
	}
	acked, err := dc.WaitContext(pubCtx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("rabbitmq nack for routing key %s", key)
	}
	return nil
}

func (p *Publisher) Disconnect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
