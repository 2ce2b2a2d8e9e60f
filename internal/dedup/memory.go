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
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// MemoryStore is a bounded LRU of dedup keys with a TTL window. A single
// mutex covers check-and-insert.
type MemoryStore struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	order *list.List // front is most recent
	index map[string]*list.Element

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

func NewMemoryStore(ttl time.Duration, capacity int, logger *slog.Logger) *MemoryStore {
	m := newMemoryStore(ttl, capacity, time.Now, logger)
	go m.cleanupLoop()
	return m
}

func newMemoryStore(ttl time.Duration, capacity int, now func() time.Time, logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		ttl:         ttl,
		capacity:    capacity,
		now:         now,
		logger:      logger,
		order:       list.New(),
		index:       make(map[string]*list.Element),
		stopCleanup: make(chan struct{}),
	}
}

func (m *MemoryStore) CheckAndInsert(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.index[key]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seen) < m.ttl {
			return true, nil
		}
		// Expired: the key counts as new again.
		e.seen = now
		m.order.MoveToFront(el)
		return false, nil
	}

	m.index[key] = m.order.PushFront(&entry{key: key, seen: now})
	for m.capacity > 0 && m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.index, oldest.Value.(*entry).key)
	}
	return false, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Cleanup drops expired keys from the tail.
func (m *MemoryStore) Cleanup() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for el := m.order.Back(); el != nil; {
		e := el.Value.(*entry)
		if now.Sub(e.seen) < m.ttl {
			break
		}
		prev := el.Prev()
		m.order.Remove(el)
		delete(m.index, e.key)
		removed++
		el = prev
	}
	return removed
}

func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.stopCleanup) })
	return nil
}

func (m *MemoryStore) cleanupLoop() {
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			if n := m.Cleanup(); n > 0 {
				m.logger.Debug("dedup cleanup", "removed", n, "remaining", m.Len())
			}
		}
	}
}
