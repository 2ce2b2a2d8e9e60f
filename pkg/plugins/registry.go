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

package plugins

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

// Factory builds a publisher from its configuration section.
type Factory func(cfg config.PublisherConfig, logger *slog.Logger) (core.Publisher, error)

type Registry struct {
	factories map[string]Factory
	logger    *slog.Logger
	mu        sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	r.factories[typ] = f
	r.mu.Unlock()
	r.logger.Debug("registered publisher type", "type", typ)
}

// New builds the publisher named by cfg.Type.
func (r *Registry) New(cfg config.PublisherConfig) (core.Publisher, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", core.ErrUnknownPublisher, cfg.Type, strings.Join(r.Types(), ", "))
	}
	p, err := f(cfg, r.logger.With("component", "publisher", "type", cfg.Type))
	if err != nil {
		return nil, fmt.Errorf("publisher %s: %w", cfg.Type, err)
	}
	r.logger.Info("publisher created", "name", p.Name(), "type", p.Type())
	return p, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
