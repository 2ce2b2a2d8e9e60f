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
	"fmt"
	"log/slog"
	"sort"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

// New builds the registry selected by cfg.Type.
func New(cfg config.DiscoveryConfig, logger *slog.Logger) (core.BrokerRegistry, error) {
	logger = logger.With("component", "discovery", "type", cfg.Type)
	switch cfg.Type {
	case "file", "":
		return NewFileRegistry(cfg.Path, logger), nil
	case "redis":
		reg, err := NewRedisRegistry(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key, logger)
		if err != nil {
			return nil, err
		}
		return reg, nil
	case "static":
		return NewStaticRegistry(cfg.Static, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownRegistry, cfg.Type)
	}
}

// normalize drops entries without a region or address, defaults the port
// and keeps the first entry per region. Output is sorted by region.
func normalize(in []core.BrokerEndpoint, logger *slog.Logger) []core.BrokerEndpoint {
	seen := make(map[string]struct{}, len(in))
	out := make([]core.BrokerEndpoint, 0, len(in))
	for _, b := range in {
		if b.Region == "" || b.Address == "" {
			logger.Warn("skipping incomplete broker entry", "region", b.Region, "address", b.Address)
			continue
		}
		if _, dup := seen[b.Region]; dup {
			logger.Warn("duplicate region in discovery, keeping first", "region", b.Region)
			continue
		}
		if b.Port == 0 {
			b.Port = 1883
		}
		seen[b.Region] = struct{}{}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

func clone(in []core.BrokerEndpoint) []core.BrokerEndpoint {
	out := make([]core.BrokerEndpoint, len(in))
	copy(out, in)
	return out
}
