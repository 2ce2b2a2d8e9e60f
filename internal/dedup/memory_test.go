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
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCheckAndInsert(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := newMemoryStore(time.Minute, 10, clock.Now, discard())
	ctx := context.Background()

	dup, err := m.CheckAndInsert(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, _ = m.CheckAndInsert(ctx, "abc")
	assert.True(t, dup)

	clock.Advance(time.Minute)
	dup, _ = m.CheckAndInsert(ctx, "abc")
	assert.False(t, dup, "expired key is treated as new")

	dup, _ = m.CheckAndInsert(ctx, "abc")
	assert.True(t, dup)
}

func TestCapacityEvictsLeastRecent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := newMemoryStore(time.Hour, 2, clock.Now, discard())
	ctx := context.Background()

	m.CheckAndInsert(ctx, "a")
	m.CheckAndInsert(ctx, "b")
	m.CheckAndInsert(ctx, "c")
	assert.Equal(t, 2, m.Len())

	dup, _ := m.CheckAndInsert(ctx, "a")
	assert.False(t, dup, "a was evicted")
	dup, _ = m.CheckAndInsert(ctx, "c")
	assert.True(t, dup)
}

func TestCleanup(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := newMemoryStore(time.Minute, 0, clock.Now, discard())
	ctx := context.Background()

	m.CheckAndInsert(ctx, "old")
	clock.Advance(45 * time.Second)
	m.CheckAndInsert(ctx, "new")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, m.Cleanup())
	assert.Equal(t, 1, m.Len())
}

func TestConcurrentDuplicatesSingleWinner(t *testing.T) {
	m := NewMemoryStore(time.Minute, 1000, discard())
	defer m.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dup, err := m.CheckAndInsert(context.Background(), "same-key")
			if err == nil && !dup {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(config.DedupConfig{Store: "memory", TTL: time.Minute, Capacity: 5}, discard())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	_, err = NewStore(config.DedupConfig{Store: "etcd"}, discard())
	assert.True(t, errors.Is(err, core.ErrUnknownStore))

	_, err = NewStore(config.DedupConfig{Store: "redis"}, discard())
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}
