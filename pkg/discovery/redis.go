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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/redis/go-redis/v9"
)

type redisEntry struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// RedisRegistry reads a hash of region -> {"address","port"}. Operators (or
// the broker containers themselves) HSET their entry on start and HDEL it on
// exit.
type RedisRegistry struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

func NewRedisRegistry(addr, password string, db int, key string, logger *slog.Logger) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis discovery connected", "addr", addr, "key", key)
	return &RedisRegistry{client: client, key: key, logger: logger}, nil
}

func (r *RedisRegistry) Name() string { return "redis:" + r.key }

func (r *RedisRegistry) GetBrokers(ctx context.Context) ([]core.BrokerEndpoint, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.key, err)
	}
	return r.decode(fields), nil
}

func (r *RedisRegistry) decode(fields map[string]string) []core.BrokerEndpoint {
	brokers := make([]core.BrokerEndpoint, 0, len(fields))
	for region, raw := range fields {
		var e redisEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			r.logger.Warn("skipping malformed broker entry", "region", region, "error", err)
			continue
		}
		brokers = append(brokers, core.BrokerEndpoint{Region: region, Address: e.Address, Port: e.Port})
	}
	return normalize(brokers, r.logger)
}

// Register writes the entry for ep.Region, replacing any previous one.
func (r *RedisRegistry) Register(ctx context.Context, ep core.BrokerEndpoint) error {
	data, err := json.Marshal(redisEntry{Address: ep.Address, Port: ep.Port})
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key, ep.Region, data).Err()
}

// Deregister removes region; the next poll drops its connection.
func (r *RedisRegistry) Deregister(ctx context.Context, region string) error {
	return r.client.HDel(ctx, r.key, region).Err()
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
