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

//go:build integration

package broker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins/mqtt"
)

func startMosquitto(t *testing.T) core.BrokerEndpoint {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "1883")
	require.NoError(t, err)

	return core.BrokerEndpoint{Region: "eu868", Address: host, Port: port.Int()}
}

func TestPoolReceivesFromMosquitto(t *testing.T) {
	ep := startMosquitto(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Config{}
	cfg.ApplyDefaults()
	cfg.Brokers.InitialBackoff = 200 * time.Millisecond

	h := &recordingHandler{}
	pool := NewPool(NewPahoDialer(cfg.Brokers, logger), h, Options{
		InitialBackoff: cfg.Brokers.InitialBackoff,
		MaxRetries:     cfg.Brokers.MaxRetries,
	}, logger, nil)
	defer pool.Shutdown(context.Background())

	pool.Reconcile(context.Background(), []core.BrokerEndpoint{ep})
	require.Eventually(t, func() bool {
		return statusOf(pool, "eu868") == core.ConnectionSubscribed
	}, 15*time.Second, 50*time.Millisecond)

	pub, err := mqtt.New(config.PublisherConfig{
		URL:           ep.URL(),
		TopicTemplate: "application/{region}/device/0102/event/up",
		QoS:           1,
		Timeout:       5 * time.Second,
	}, logger)
	require.NoError(t, err)
	require.NoError(t, pub.Connect(context.Background()))
	defer pub.Disconnect(context.Background())

	require.NoError(t, pub.Publish(context.Background(), "1", []byte(`{"deduplicationId":"abc"}`)))

	require.Eventually(t, func() bool { return h.count() == 1 }, 5*time.Second, 50*time.Millisecond)
	h.mu.Lock()
	msg := h.msgs[0]
	h.mu.Unlock()
	assert.Equal(t, "application/1/device/0102/event/up", msg.Topic)
	assert.Equal(t, "eu868", msg.Region)
	assert.JSONEq(t, `{"deduplicationId":"abc"}`, string(msg.Payload))
}
