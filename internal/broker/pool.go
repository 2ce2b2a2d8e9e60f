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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/metrics"
)

type Options struct {
	InitialBackoff time.Duration
	MaxRetries     int
	// CloseTimeout bounds a single graceful disconnect.
	CloseTimeout time.Duration
}

type regionConn struct {
	ep     core.BrokerEndpoint
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    core.ConnectionStatus
	lastErr   error
	attempts  int
	updatedAt time.Time
	conn      Conn
	busy      bool

	// OnLost fired before the connect loop owned the session.
	lostDuringDial bool
}

// Pool keeps one broker session per region in step with discovery.
type Pool struct {
	dialer  Dialer
	handler core.MessageHandler
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[string]*regionConn
	closed bool
}

func NewPool(dialer Dialer, handler core.MessageHandler, opts Options, logger *slog.Logger, m *metrics.Metrics) *Pool {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 3 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 250 * time.Millisecond
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pool{
		dialer:  dialer,
		handler: handler,
		opts:    opts,
		logger:  logger,
		metrics: m,
		base:    base,
		cancel:  cancel,
		conns:   make(map[string]*regionConn),
	}
}

// Run reconciles against the registry immediately and then every interval
// until ctx is done. A failed poll leaves the current set as is.
func (p *Pool) Run(ctx context.Context, registry core.BrokerRegistry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.poll(ctx, registry)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) poll(ctx context.Context, registry core.BrokerRegistry) {
	brokers, err := registry.GetBrokers(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("discovery poll failed", "registry", registry.Name(), "error", err)
		}
		return
	}
	p.Reconcile(ctx, brokers)
}

// Reconcile makes the set of tracked regions equal to desired. New regions
// and regions left Failed get a connect loop, vanished regions and regions
// whose endpoint moved are closed, everything else is left alone.
func (p *Pool) Reconcile(_ context.Context, desired []core.BrokerEndpoint) {
	want := make(map[string]core.BrokerEndpoint, len(desired))
	for _, ep := range desired {
		if _, dup := want[ep.Region]; dup {
			continue
		}
		want[ep.Region] = ep
	}

	var removed, start []*regionConn

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	for region, rc := range p.conns {
		if ep, ok := want[region]; !ok || ep != rc.ep {
			delete(p.conns, region)
			removed = append(removed, rc)
		}
	}
	for region, ep := range want {
		rc, ok := p.conns[region]
		if !ok {
			rc = p.newRegionConn(ep)
			p.conns[region] = rc
			start = append(start, rc)
			continue
		}
		if rc.retryable() {
			start = append(start, rc)
		}
	}
	p.mu.Unlock()

	for _, rc := range removed {
		p.logger.Info("broker removed from discovery", "region", rc.ep.Region, "broker", rc.ep.HostPort())
		p.drop(rc)
		p.metrics.ForgetBroker(rc.ep.Region)
	}
	for _, rc := range start {
		p.spawn(rc)
	}
}

func (p *Pool) newRegionConn(ep core.BrokerEndpoint) *regionConn {
	ctx, cancel := context.WithCancel(p.base)
	return &regionConn{
		ep:        ep,
		ctx:       ctx,
		cancel:    cancel,
		status:    core.ConnectionConnecting,
		updatedAt: time.Now(),
	}
}

func (rc *regionConn) retryable() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return !rc.busy && (rc.status == core.ConnectionFailed || rc.status == core.ConnectionDisconnected)
}

func (rc *regionConn) set(status core.ConnectionStatus, err error) {
	rc.status = status
	rc.lastErr = err
	rc.updatedAt = time.Now()
}

// spawn starts a connect loop unless one is already running.
func (p *Pool) spawn(rc *regionConn) {
	rc.mu.Lock()
	if rc.busy || rc.ctx.Err() != nil {
		rc.mu.Unlock()
		return
	}
	rc.busy = true
	rc.lostDuringDial = false
	rc.set(core.ConnectionConnecting, rc.lastErr)
	rc.mu.Unlock()
	p.metrics.SetBrokerState(rc.ep.Region, core.ConnectionConnecting)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("connect loop panic recovered", "region", rc.ep.Region, "error", r)
				rc.mu.Lock()
				rc.busy = false
				rc.set(core.ConnectionFailed, fmt.Errorf("%w: panic: %v", core.ErrConnection, r))
				rc.mu.Unlock()
			}
		}()
		p.connect(rc)
	}()
}

func newBackOff(initial time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour
	return bo
}

// connect dials with exponential backoff: d, 2d, 4d... for at most
// MaxRetries attempts. On exhaustion the region is left Failed for the next
// Reconcile.
func (p *Pool) connect(rc *regionConn) {
	region := rc.ep.Region
	cb := Callbacks{
		OnMessage: func(topic string, payload []byte) { p.deliver(rc, topic, payload) },
		OnLost:    func(err error) { p.lost(rc, err) },
	}

	op := func() (Conn, error) {
		conn, err := p.dialer.Dial(rc.ctx, rc.ep, cb)
		rc.mu.Lock()
		rc.attempts++
		dropped := err == nil && rc.lostDuringDial
		rc.lostDuringDial = false
		rc.mu.Unlock()
		if dropped {
			conn.Close(p.opts.CloseTimeout)
			err = fmt.Errorf("%w: session dropped right after subscribe", core.ErrConnection)
		}
		p.metrics.ConnectAttempt(region, err)
		if err != nil {
			if rc.ctx.Err() != nil {
				return nil, backoff.Permanent(rc.ctx.Err())
			}
			return nil, err
		}
		return conn, nil
	}
	notify := func(err error, next time.Duration) {
		p.logger.Warn("broker connect failed, retrying",
			"region", region,
			"broker", rc.ep.HostPort(),
			"retry_in", next,
			"error", err,
		)
	}

	conn, err := backoff.Retry(rc.ctx, op,
		backoff.WithBackOff(newBackOff(p.opts.InitialBackoff)),
		backoff.WithMaxTries(uint(p.opts.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)

	rc.mu.Lock()
	rc.busy = false
	if rc.ctx.Err() != nil {
		rc.set(core.ConnectionDisconnected, nil)
		rc.mu.Unlock()
		if conn != nil {
			conn.Close(p.opts.CloseTimeout)
		}
		return
	}
	if err != nil {
		rc.set(core.ConnectionFailed, fmt.Errorf("%w: %s after %d attempts: %v", core.ErrConnection, rc.ep, p.opts.MaxRetries, err))
		rc.mu.Unlock()
		p.metrics.SetBrokerState(region, core.ConnectionFailed)
		p.logger.Error("broker connect gave up until next reconcile",
			"region", region,
			"broker", rc.ep.HostPort(),
			"attempts", p.opts.MaxRetries,
			"error", err,
		)
		return
	}
	if rc.lostDuringDial {
		// The session died between the last dial and here: start over.
		rc.lostDuringDial = false
		rc.set(core.ConnectionDisconnected, fmt.Errorf("%w: session dropped right after subscribe", core.ErrConnection))
		rc.mu.Unlock()
		conn.Close(p.opts.CloseTimeout)
		p.metrics.SetBrokerState(region, core.ConnectionDisconnected)
		p.logger.Warn("broker session dropped before it was handed over, reconnecting", "region", region)
		p.spawn(rc)
		return
	}
	rc.conn = conn
	rc.set(core.ConnectionSubscribed, nil)
	rc.mu.Unlock()
	p.metrics.SetBrokerState(region, core.ConnectionSubscribed)
	p.logger.Info("broker connected", "region", region, "broker", rc.ep.HostPort())
}

func (p *Pool) deliver(rc *regionConn, topic string, payload []byte) {
	if rc.ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("message handler panic recovered", "region", rc.ep.Region, "topic", topic, "error", r)
		}
	}()
	p.metrics.Received(rc.ep.Region)
	p.handler.Route(rc.ctx, core.InboundMessage{
		Topic:      topic,
		Payload:    payload,
		Region:     rc.ep.Region,
		ReceivedAt: time.Now(),
	})
}

// lost restarts the connect loop after the transport drops.
func (p *Pool) lost(rc *regionConn, err error) {
	rc.mu.Lock()
	if rc.ctx.Err() != nil {
		rc.mu.Unlock()
		return
	}
	if rc.busy {
		rc.lostDuringDial = true
		rc.mu.Unlock()
		p.logger.Warn("broker connection lost while connecting", "region", rc.ep.Region, "error", err)
		return
	}
	rc.conn = nil
	rc.set(core.ConnectionDisconnected, fmt.Errorf("%w: %v", core.ErrConnection, err))
	rc.mu.Unlock()

	p.metrics.SetBrokerState(rc.ep.Region, core.ConnectionDisconnected)
	p.logger.Warn("broker connection lost, reconnecting", "region", rc.ep.Region, "error", err)
	p.spawn(rc)
}

// drop cancels any connect loop and closes the session. It blocks for at
// most CloseTimeout on the transport.
func (p *Pool) drop(rc *regionConn) {
	rc.cancel()
	rc.mu.Lock()
	conn := rc.conn
	rc.conn = nil
	rc.set(core.ConnectionDisconnected, nil)
	rc.mu.Unlock()
	if conn != nil {
		conn.Close(p.opts.CloseTimeout)
	}
}

// Snapshot returns the tracked connections ordered by region.
func (p *Pool) Snapshot() []core.ConnectionHandle {
	p.mu.Lock()
	conns := make([]*regionConn, 0, len(p.conns))
	for _, rc := range p.conns {
		conns = append(conns, rc)
	}
	p.mu.Unlock()

	out := make([]core.ConnectionHandle, 0, len(conns))
	for _, rc := range conns {
		rc.mu.Lock()
		out = append(out, core.ConnectionHandle{
			Region:    rc.ep.Region,
			Endpoint:  rc.ep,
			Status:    rc.status,
			LastError: rc.lastErr,
			Attempts:  rc.attempts,
			UpdatedAt: rc.updatedAt,
		})
		rc.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// Shutdown closes every session concurrently and waits until ctx expires.
// Connections still closing at that point are abandoned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*regionConn, 0, len(p.conns))
	for region, rc := range p.conns {
		conns = append(conns, rc)
		delete(p.conns, region)
	}
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, rc := range conns {
			wg.Add(1)
			go func(rc *regionConn) {
				defer wg.Done()
				p.drop(rc)
			}(rc)
		}
		wg.Wait()
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("broker pool stopped", "closed", len(conns))
		return nil
	case <-ctx.Done():
		p.logger.Warn("broker pool shutdown timed out, abandoning stragglers", "error", ctx.Err())
		return ctx.Err()
	}
}
