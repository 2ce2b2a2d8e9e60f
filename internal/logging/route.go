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

package logging

import (
	"log/slog"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

// RouteLogger writes one line per forwarded uplink.
type RouteLogger struct {
	logger *slog.Logger
}

func NewRouteLogger(logger *slog.Logger) *RouteLogger {
	return &RouteLogger{logger: logger}
}

func (r *RouteLogger) Log(msg core.InboundMessage, node *core.FogNode, region string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.logger.Info("uplink forwarded",
		"dedup_key", msg.DedupKey,
		"source_region", msg.Region,
		"region", region,
		"topic", msg.Topic,
		"node_id", node.NodeID,
		"payload_size", len(msg.Payload),
		"elapsed", elapsed,
		"received_at", msg.ReceivedAt,
	)
}
