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

package fognode

import (
	"sort"
	"sync"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

// slot serializes lookup-or-create for one region. node is nil while the
// region is Absent.
type slot struct {
	mu   sync.Mutex
	node *core.FogNode
}

// Table maps region -> slot. Slots are never deleted so every caller for a
// region contends on the same mutex.
type Table struct {
	slots sync.Map
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) slot(region string) *slot {
	if v, ok := t.slots.Load(region); ok {
		return v.(*slot)
	}
	v, _ := t.slots.LoadOrStore(region, &slot{})
	return v.(*slot)
}

func (t *Table) lookup(region string) (*slot, bool) {
	v, ok := t.slots.Load(region)
	if !ok {
		return nil, false
	}
	return v.(*slot), true
}

func (t *Table) each(fn func(region string, s *slot) bool) {
	t.slots.Range(func(key, val any) bool {
		return fn(key.(string), val.(*slot))
	})
}

// Snapshot copies every tracked node, waiting for in-flight provisioning.
func (t *Table) Snapshot() []core.FogNode {
	var out []core.FogNode
	t.each(func(_ string, s *slot) bool {
		s.mu.Lock()
		if s.node != nil {
			out = append(out, *s.node)
		}
		s.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}
