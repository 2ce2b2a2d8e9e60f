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

package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins"
)

// Publisher sends to one AMQP 1.0 address per region (ActiveMQ Artemis,
// Qpid, Service Bus). Senders are opened on first use and cached.
type Publisher struct {
	url      string
	template string
	settled  bool
	durable  bool
	username string
	password string
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Conn
	session *amqp.Session
	senders map[string]*amqp.Sender
}

func New(cfg config.PublisherConfig, logger *slog.Logger) (core.Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: publisher.url is required for amqp", core.ErrInvalidConfig)
	}
	return &Publisher{
		url:      cfg.URL,
		template: cfg.TopicTemplate,
		settled:  cfg.QoS == 0,
		durable:  cfg.Retain,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  cfg.Timeout,
		logger:   logger,
		senders:  make(map[string]*amqp.Sender),
	}, nil
}

func (p *Publisher) Name() string { return "amqp:" + p.url }
func (p *Publisher) Type() string { return "amqp" }

func (p *Publisher) Connect(ctx context.Context) error {
	opts := &amqp.ConnOptions{
		ContainerID: "fog-publisher-" + uuid.New().String()[:8],
	}
	if p.username != "" {
		opts.SASLType = amqp.SASLTypePlain(p.username, p.password)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := amqp.Dial(dialCtx, p.url, opts)
	if err != nil {
		return fmt.Errorf("%w: amqp dial: %v", core.ErrConnection, err)
	}
	session, err := conn.NewSession(dialCtx, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp session: %w", err)
	}

	p.mu.Lock()
	p.conn, p.session = conn, session
	p.mu.Unlock()

	p.logger.Info("amqp publisher connected", "url", p.url)
	return nil
}

func (p *Publisher) sender(ctx context.Context, address string) (*amqp.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, core.ErrNotConnected
	}
	if s, ok := p.senders[address]; ok {
		return s, nil
	}
	opts := &amqp.SenderOptions{}
	if p.settled {
		opts.SettlementMode = amqp.SenderSettleModeSettled.Ptr()
	}
	s, err := p.session.NewSender(ctx, address, opts)
	if err != nil {
		return nil, fmt.Errorf("amqp sender %s: %w", address, err)
	}
	p.senders[address] = s
	return s, nil
}

func (p *Publisher) Publish(ctx context.Context, region string, payload []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	address := plugins.Topic(p.template, region)
	s, err := p.sender(pubCtx, address)
	if err != nil {
		return err
	}

	msg := &amqp.Message{
		Data: [][]byte{payload},
		Header: &amqp.MessageHeader{
			Durable: p.durable,
		},
		Properties: &amqp.MessageProperties{
			MessageID:   uuid.New().String(),
			ContentType: ptr("application/json"),
		},
		ApplicationProperties: map[string]any{"region": region},
	}
	if err := s.Send(pubCtx, msg, nil); err != nil {
		// Drop the cached sender so the next publish reopens the link.
		p.mu.Lock()
		delete(p.senders, address)
		p.mu.Unlock()
		return fmt.Errorf("address=%s: %w", address, err)
	}
	return nil
}

func (p *Publisher) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, s := range p.senders {
		s.Close(ctx)
		delete(p.senders, addr)
	}
	if p.session != nil {
		p.session.Close(ctx)
		p.session = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
