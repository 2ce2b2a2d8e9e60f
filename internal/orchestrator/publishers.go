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

package orchestrator

import (
	"log/slog"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins"
	pluginamqp "github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins/amqp"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins/kafka"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins/mqtt"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins/mqtt5"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins/nats"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/plugins/rabbitmq"
)

// Publishers returns a registry with every built-in publisher type.
func Publishers(logger *slog.Logger) *plugins.Registry {
	reg := plugins.NewRegistry(logger)
	reg.Register("mqtt", mqtt.New)
	reg.Register("mqtt5", mqtt5.New)
	reg.Register("kafka", kafka.New)
	reg.Register("rabbitmq", rabbitmq.New)
	reg.Register("amqp", pluginamqp.New)
	reg.Register("nats", nats.New)
	return reg
}
