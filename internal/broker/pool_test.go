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

package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	closed bool
	block  chan struct{}
}

func (c *fakeConn) Close(time.Duration) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu         sync.Mutex
	failFirst  map[string]int // failures before success, -1 = always
	dropOnDial map[string]int // sessions lost before Dial returns, -1 = always
	dials      map[string][]time.Time
	conns      map[string][]*fakeConn
	callbacks  map[string]Callbacks
	block      chan struct{}
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		failFirst:  make(map[string]int),
		dropOnDial: make(map[string]int),
		dials:      make(map[string][]time.Time),
		conns:      make(map[string][]*fakeConn),
		callbacks:  make(map[string]Callbacks),
	}
}

func (d *fakeDialer) Dial(_ context.Context, ep core.BrokerEndpoint, cb Callbacks) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[ep.Region] = append(d.dials[ep.Region], time.Now())
	if n := d.failFirst[ep.Region]; n != 0 {
		if n > 0 {
			d.failFirst[ep.Region] = n - 1
		}
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{block: d.block}
	d.conns[ep.Region] = append(d.conns[ep.Region], c)
	d.callbacks[ep.Region] = cb
	if n := d.dropOnDial[ep.Region]; n != 0 {
		if n > 0 {
			d.dropOnDial[ep.Region] = n - 1
		}
		cb.OnLost(errors.New("EOF"))
	}
	return c, nil
}

func (d *fakeDialer) allConns(region string) []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns[region]...)
}

func (d *fakeDialer) dialCount(region string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials[region])
}

func (d *fakeDialer) dialTimes(region string) []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials[region]...)
}

func (d *fakeDialer) lastConn(region string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs := d.conns[region]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func (d *fakeDialer) callback(region string) Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.callbacks[region]
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []core.InboundMessage
}

func (h *recordingHandler) Route(_ context.Context, msg core.InboundMessage) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestPool(d Dialer, h core.MessageHandler, backoff time.Duration, retries int) *Pool {
	return NewPool(d, h, Options{InitialBackoff: backoff, MaxRetries: retries, CloseTimeout: time.Millisecond}, discard(), metrics.New())
}

func regions(p *Pool) []string {
	var out []string
	for _, h := range p.Snapshot() {
		out = append(out, h.Region)
	}
	return out
}

func statusOf(p *Pool, region string) core.ConnectionStatus {
	for _, h := range p.Snapshot() {
		if h.Region == region {
			return h.Status
		}
	}
	return core.ConnectionDisconnected
}

func ep(region, addr string) core.BrokerEndpoint {
	return core.BrokerEndpoint{Region: region, Address: addr, Port: 1883}
}

func TestReconcileConnectsThenDisconnects(t *testing.T) {
	d := newFakeDialer()
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 3)
	defer p.Shutdown(context.Background())
	ctx := context.Background()

	p.Reconcile(ctx, []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return statusOf(p, "eu868") == core.ConnectionSubscribed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, d.dialCount("eu868"))

	p.Reconcile(ctx, nil)
	assert.Empty(t, regions(p))
	assert.True(t, d.lastConn("eu868").isClosed())
	assert.Equal(t, 1, d.dialCount("eu868"))
}

func TestReconcileLeavesConnectedRegionsAlone(t *testing.T) {
	d := newFakeDialer()
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 3)
	defer p.Shutdown(context.Background())
	ctx := context.Background()

	desired := []core.BrokerEndpoint{ep("eu868", "10.0.0.5"), ep("us915", "10.0.0.6")}
	p.Reconcile(ctx, desired)
	require.Eventually(t, func() bool {
		return statusOf(p, "eu868") == core.ConnectionSubscribed && statusOf(p, "us915") == core.ConnectionSubscribed
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		p.Reconcile(ctx, desired)
	}
	assert.Equal(t, 1, d.dialCount("eu868"))
	assert.Equal(t, 1, d.dialCount("us915"))
	assert.False(t, d.lastConn("eu868").isClosed())
}

func TestReconcileConvergesOnEverySnapshot(t *testing.T) {
	d := newFakeDialer()
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 2)
	defer p.Shutdown(context.Background())
	ctx := context.Background()

	snapshots := [][]core.BrokerEndpoint{
		{ep("eu868", "a"), ep("us915", "b")},
		{ep("us915", "b"), ep("as923", "c"), ep("as923", "dup")},
		{},
		{ep("eu868", "a"), ep("au915", "d"), ep("in865", "e")},
		{ep("in865", "e")},
	}
	for _, snap := range snapshots {
		p.Reconcile(ctx, snap)

		want := map[string]struct{}{}
		for _, e := range snap {
			want[e.Region] = struct{}{}
		}
		var wantList []string
		for r := range want {
			wantList = append(wantList, r)
		}
		sort.Strings(wantList)
		assert.Equal(t, wantList, regions(p))
	}
}

func TestEndpointChangeReconnects(t *testing.T) {
	d := newFakeDialer()
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 3)
	defer p.Shutdown(context.Background())
	ctx := context.Background()

	p.Reconcile(ctx, []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return d.dialCount("eu868") == 1 && d.lastConn("eu868") != nil }, time.Second, 5*time.Millisecond)
	first := d.lastConn("eu868")

	p.Reconcile(ctx, []core.BrokerEndpoint{ep("eu868", "10.0.0.9")})
	require.Eventually(t, func() bool { return d.dialCount("eu868") == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, first.isClosed())
	assert.Equal(t, "10.0.0.9", p.Snapshot()[0].Endpoint.Address)
}

func TestBackoffSequenceDoubles(t *testing.T) {
	d := 100 * time.Millisecond
	bo := newBackOff(d)
	bo.Reset()
	assert.Equal(t, d, bo.NextBackOff())
	assert.Equal(t, 2*d, bo.NextBackOff())
	assert.Equal(t, 4*d, bo.NextBackOff())
	assert.Equal(t, 8*d, bo.NextBackOff())
}

func TestFailedAfterMaxRetriesUntilNextReconcile(t *testing.T) {
	d := newFakeDialer()
	d.failFirst["eu868"] = -1
	p := newTestPool(d, &recordingHandler{}, 20*time.Millisecond, 3)
	defer p.Shutdown(context.Background())
	ctx := context.Background()

	p.Reconcile(ctx, []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return statusOf(p, "eu868") == core.ConnectionFailed }, 2*time.Second, 5*time.Millisecond)

	times := d.dialTimes("eu868")
	require.Len(t, times, 3)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 40*time.Millisecond)

	h := p.Snapshot()[0]
	assert.Equal(t, 3, h.Attempts)
	assert.True(t, errors.Is(h.LastError, core.ErrConnection))

	// No retries on its own.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, d.dialCount("eu868"))

	p.Reconcile(ctx, []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return d.dialCount("eu868") == 6 }, 2*time.Second, 5*time.Millisecond)
}

func TestMaxRetriesIsTheOnlyLimit(t *testing.T) {
	d := newFakeDialer()
	d.failFirst["eu868"] = -1
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 9)
	defer p.Shutdown(context.Background())

	p.Reconcile(context.Background(), []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return statusOf(p, "eu868") == core.ConnectionFailed }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 9, d.dialCount("eu868"))

	times := d.dialTimes("eu868")
	for i := 1; i < len(times); i++ {
		want := time.Millisecond << (i - 1)
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), want, "gap before attempt %d", i+1)
	}
}

func TestSessionLostDuringDialIsRedialed(t *testing.T) {
	d := newFakeDialer()
	d.dropOnDial["eu868"] = 1
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 3)
	defer p.Shutdown(context.Background())

	p.Reconcile(context.Background(), []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool {
		return statusOf(p, "eu868") == core.ConnectionSubscribed && d.dialCount("eu868") == 2
	}, time.Second, 5*time.Millisecond)

	conns := d.allConns("eu868")
	require.Len(t, conns, 2)
	assert.True(t, conns[0].isClosed())
	assert.False(t, conns[1].isClosed())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, d.dialCount("eu868"))
	assert.Equal(t, core.ConnectionSubscribed, statusOf(p, "eu868"))
}

func TestSessionAlwaysLostDuringDialEndsFailed(t *testing.T) {
	d := newFakeDialer()
	d.dropOnDial["eu868"] = -1
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 3)
	defer p.Shutdown(context.Background())

	p.Reconcile(context.Background(), []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return statusOf(p, "eu868") == core.ConnectionFailed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, d.dialCount("eu868"))
	for _, c := range d.allConns("eu868") {
		assert.True(t, c.isClosed())
	}

	p.Reconcile(context.Background(), []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return d.dialCount("eu868") == 6 }, time.Second, 5*time.Millisecond)
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	d := newFakeDialer()
	d.failFirst["eu868"] = 2
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 5)
	defer p.Shutdown(context.Background())

	p.Reconcile(context.Background(), []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return statusOf(p, "eu868") == core.ConnectionSubscribed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, d.dialCount("eu868"))
}

func TestConnectionLostReconnects(t *testing.T) {
	d := newFakeDialer()
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 3)
	defer p.Shutdown(context.Background())

	p.Reconcile(context.Background(), []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return statusOf(p, "eu868") == core.ConnectionSubscribed }, time.Second, 5*time.Millisecond)

	d.callback("eu868").OnLost(errors.New("EOF"))
	require.Eventually(t, func() bool {
		return d.dialCount("eu868") == 2 && statusOf(p, "eu868") == core.ConnectionSubscribed
	}, time.Second, 5*time.Millisecond)
}

func TestMessagesCarrySourceRegion(t *testing.T) {
	d := newFakeDialer()
	h := &recordingHandler{}
	p := newTestPool(d, h, time.Millisecond, 3)
	defer p.Shutdown(context.Background())

	p.Reconcile(context.Background(), []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return statusOf(p, "eu868") == core.ConnectionSubscribed }, time.Second, 5*time.Millisecond)

	cb := d.callback("eu868")
	cb.OnMessage("application/1/device/abc/event/up", []byte(`{"a":1}`))
	cb.OnMessage("application/1/device/abc/event/up", []byte(`{"a":2}`))

	require.Equal(t, 2, h.count())
	assert.Equal(t, "eu868", h.msgs[0].Region)
	assert.Equal(t, `{"a":1}`, string(h.msgs[0].Payload))
	assert.Equal(t, `{"a":2}`, string(h.msgs[1].Payload))

	p.Reconcile(context.Background(), nil)
	cb.OnMessage("application/1/device/abc/event/up", []byte(`{"a":3}`))
	assert.Equal(t, 2, h.count(), "messages after removal are ignored")
}

func TestShutdownIsBounded(t *testing.T) {
	d := newFakeDialer()
	d.block = make(chan struct{})
	defer close(d.block)
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 3)

	p.Reconcile(context.Background(), []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	require.Eventually(t, func() bool { return statusOf(p, "eu868") == core.ConnectionSubscribed }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	p.Reconcile(context.Background(), []core.BrokerEndpoint{ep("eu868", "10.0.0.5")})
	assert.Empty(t, regions(p), "closed pool ignores reconcile")
}

type sliceRegistry struct {
	mu   sync.Mutex
	list []core.BrokerEndpoint
	err  error
}

func (r *sliceRegistry) Name() string { return "test" }

func (r *sliceRegistry) GetBrokers(context.Context) ([]core.BrokerEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list, r.err
}

func (r *sliceRegistry) set(list []core.BrokerEndpoint, err error) {
	r.mu.Lock()
	r.list, r.err = list, err
	r.mu.Unlock()
}

func TestRunPollsRegistry(t *testing.T) {
	d := newFakeDialer()
	p := newTestPool(d, &recordingHandler{}, time.Millisecond, 3)
	defer p.Shutdown(context.Background())

	reg := &sliceRegistry{list: []core.BrokerEndpoint{ep("eu868", "10.0.0.5")}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, reg, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return statusOf(p, "eu868") == core.ConnectionSubscribed }, time.Second, 5*time.Millisecond)

	reg.set(nil, errors.New("discovery down"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"eu868"}, regions(p), "failed poll keeps current set")

	reg.set([]core.BrokerEndpoint{}, nil)
	require.Eventually(t, func() bool { return len(regions(p)) == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
