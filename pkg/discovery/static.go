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

package discovery

import (
	"context"
	"log/slog"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

// StaticRegistry serves a fixed broker list from configuration.
type StaticRegistry struct {
	brokers []core.BrokerEndpoint
}

func NewStaticRegistry(brokers []core.BrokerEndpoint, logger *slog.Logger) *StaticRegistry {
	return &StaticRegistry{brokers: normalize(brokers, logger)}
}

func (s *StaticRegistry) Name() string { return "static" }

func (s *StaticRegistry) GetBrokers(_ context.Context) ([]core.BrokerEndpoint, error) {
	return clone(s.brokers), nil
}
