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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishBeforeConnect(t *testing.T) {
	p, err := New(config.PublisherConfig{
		URL:           "tcp://localhost:1883",
		TopicTemplate: "fog/{region}/process",
		QoS:           1,
		Timeout:       time.Second,
	}, discard())
	require.NoError(t, err)
	assert.Equal(t, "mqtt", p.Type())

	err = p.Publish(context.Background(), "eu868", []byte("{}"))
	assert.ErrorIs(t, err, core.ErrNotConnected)
	assert.NoError(t, p.Disconnect(context.Background()))
}

func TestURLRequired(t *testing.T) {
	_, err := New(config.PublisherConfig{TopicTemplate: "fog/{region}/process"}, discard())
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
