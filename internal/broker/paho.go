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

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

var errTokenTimeout = errors.New("timed out waiting for broker")

// PahoDialer opens one MQTT 3.1.1 client per regional broker. Automatic
// reconnect is off: the pool owns the retry schedule.
type PahoDialer struct {
	topic          string
	qos            byte
	username       string
	password       string
	clientIDPrefix string
	keepAlive      time.Duration
	connectTimeout time.Duration
	logger         *slog.Logger
}

func NewPahoDialer(cfg config.BrokerConfig, logger *slog.Logger) *PahoDialer {
	return &PahoDialer{
		topic:          cfg.Topic,
		qos:            cfg.QoS,
		username:       cfg.Username,
		password:       cfg.Password,
		clientIDPrefix: cfg.ClientIDPrefix,
		keepAlive:      cfg.KeepAlive,
		connectTimeout: cfg.ConnectTimeout,
		logger:         logger,
	}
}

func (d *PahoDialer) clientID(region string) string {
	return fmt.Sprintf("%s-%s-%s", d.clientIDPrefix, region, uuid.NewString()[:8])
}

func (d *PahoDialer) Dial(ctx context.Context, ep core.BrokerEndpoint, cb Callbacks) (Conn, error) {
	clientID := d.clientID(ep.Region)

	opts := mqtt.NewClientOptions().
		AddBroker(ep.URL()).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetKeepAlive(d.keepAlive).
		SetConnectTimeout(d.connectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if cb.OnLost != nil {
				cb.OnLost(err)
			}
		})
	if d.username != "" {
		opts.SetUsername(d.username).SetPassword(d.password)
	}

	client := mqtt.NewClient(opts)
	if err := d.wait(ctx, client.Connect()); err != nil {
		// A connect still in flight after a timeout must not linger.
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %v", core.ErrConnection, ep, err)
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		cb.OnMessage(msg.Topic(), msg.Payload())
	}
	if err := d.wait(ctx, client.Subscribe(d.topic, d.qos, handler)); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s topic=%s: %v", core.ErrSubscribe, ep, d.topic, err)
	}

	d.logger.Info("broker subscribed",
		"region", ep.Region,
		"broker", ep.HostPort(),
		"client_id", clientID,
		"topic", d.topic,
		"qos", d.qos,
	)
	return &pahoConn{client: client}, nil
}

func (d *PahoDialer) wait(ctx context.Context, tok mqtt.Token) error {
	timer := time.NewTimer(d.connectTimeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errTokenTimeout
	}
}

type pahoConn struct {
	client mqtt.Client
}

func (c *pahoConn) Close(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}
