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
	"os"
	"sync"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

type brokersFile struct {
	Brokers []core.BrokerEndpoint `json:"brokers"`
}

// FileRegistry reads {"brokers":[...]} from a JSON file. The file is only
// re-parsed when its modification time moves forward.
type FileRegistry struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	lastMod time.Time
	cached  []core.BrokerEndpoint
}

func NewFileRegistry(path string, logger *slog.Logger) *FileRegistry {
	return &FileRegistry{
		path:   path,
		logger: logger,
	}
}

func (f *FileRegistry) Name() string { return "file:" + f.path }

func (f *FileRegistry) GetBrokers(_ context.Context) ([]core.BrokerEndpoint, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil && !info.ModTime().After(f.lastMod) {
		return clone(f.cached), nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	var doc brokersFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidConfig, f.path, err)
	}

	brokers := normalize(doc.Brokers, f.logger)
	f.cached = brokers
	f.lastMod = info.ModTime()
	f.logger.Info("broker list reloaded", "path", f.path, "count", len(brokers))
	return clone(brokers), nil
}
