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

package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/internal/logging"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/metrics"
)

var errDuplicate = errors.New("duplicate uplink")

// Router resolves the region and dedup key of each uplink, suppresses
// repeats and forwards the raw payload to the region's fog node.
type Router struct {
	nodes         core.NodeProvider
	cache         core.DedupCache
	publisher     core.Publisher
	defaultRegion string
	logger        *slog.Logger
	routeLog      *logging.RouteLogger
	metrics       *metrics.Metrics
}

func NewRouter(
	nodes core.NodeProvider,
	cache core.DedupCache,
	publisher core.Publisher,
	defaultRegion string,
	logger *slog.Logger,
	routeLog *logging.RouteLogger,
	m *metrics.Metrics,
) *Router {
	return &Router{
		nodes:         nodes,
		cache:         cache,
		publisher:     publisher,
		defaultRegion: defaultRegion,
		logger:        logger,
		routeLog:      routeLog,
		metrics:       m,
	}
}

// Route never panics and never returns an error; failures are logged and
// counted and the message is dropped.
func (r *Router) Route(ctx context.Context, msg core.InboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("route panic recovered", "topic", msg.Topic, "source_region", msg.Region, "error", rec)
			r.metrics.Dropped(fmt.Errorf("panic: %v", rec))
		}
	}()

	start := time.Now()
	region, node, err := r.route(ctx, &msg)
	switch {
	case err == nil:
		r.metrics.Forwarded(region, time.Since(start).Seconds())
		r.routeLog.Log(msg, node, region, time.Since(start))
	case errors.Is(err, errDuplicate):
		r.metrics.Duplicate()
		r.logger.Debug("duplicate uplink dropped", "dedup_key", msg.DedupKey, "source_region", msg.Region)
	default:
		r.metrics.Dropped(err)
		r.logger.Warn("uplink dropped",
			"reason", core.Reason(err),
			"class", core.Classify(err).String(),
			"region", region,
			"source_region", msg.Region,
			"dedup_key", msg.DedupKey,
			"topic", msg.Topic,
			"error", err,
		)
	}
}

func (r *Router) route(ctx context.Context, msg *core.InboundMessage) (string, *core.FogNode, error) {
	up, err := parseUplink(msg.Payload)
	if err != nil {
		return "", nil, err
	}

	region := up.region(r.defaultRegion)
	if msg.DedupKey == "" {
		msg.DedupKey = up.DeduplicationID
	}

	if msg.DedupKey != "" {
		dup, err := r.cache.CheckAndInsert(ctx, msg.DedupKey)
		if err != nil {
			// Fail open: a broken shared cache must not stop traffic.
			r.logger.Warn("dedup check failed, forwarding anyway", "dedup_key", msg.DedupKey, "error", err)
		} else if dup {
			return region, nil, errDuplicate
		}
	}

	node, err := r.nodes.GetOrCreate(ctx, region)
	if err != nil {
		return region, nil, err
	}

	if err := r.publisher.Publish(ctx, node.Region, msg.Payload); err != nil {
		return region, node, fmt.Errorf("%w: region=%s via %s: %w", core.ErrPublish, node.Region, r.publisher.Name(), err)
	}
	return region, node, nil
}
