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

package dedup

import (
	"fmt"
	"log/slog"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

// NewStore creates a dedup cache based on configuration.
func NewStore(cfg config.DedupConfig, logger *slog.Logger) (core.DedupCache, error) {
	logger = logger.With("component", "dedup", "store", cfg.Store)
	switch cfg.Store {
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("%w: dedup.redis.addr is required when store=redis", core.ErrInvalidConfig)
		}
		store, err := NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key, cfg.TTL, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory", "":
		return NewMemoryStore(cfg.TTL, cfg.Capacity, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownStore, cfg.Store)
	}
}
