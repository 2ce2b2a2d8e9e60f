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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/config"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/metrics"
)

// Topic is stamped on uplinks that arrive over HTTP.
const Topic = "http/uplink"

// Server accepts network-server HTTP integration posts and hands uplink
// events to the router. Other event types are acknowledged and dropped.
type Server struct {
	port    int
	maxBody int64
	handler core.MessageHandler
	server  *http.Server
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(cfg config.IngestConfig, handler core.MessageHandler, logger *slog.Logger, m *metrics.Metrics) *Server {
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	s := &Server{
		port:    cfg.Port,
		maxBody: maxBody,
		handler: handler,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/uplink", s.handleUplink)
	return mux
}

// Start binds the port and serves in the background until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("ingest listen %s: %w", s.server.Addr, err)
	}
	s.logger.Info("http ingest starting", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http ingest stopped", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleUplink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if event := r.URL.Query().Get("event"); event != "" && event != "up" {
		s.logger.Debug("ignoring integration event", "event", event)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	s.metrics.Received("http")

	// A client hanging up must not abort a node that is half provisioned.
	ctx := context.WithoutCancel(r.Context())
	s.handler.Route(ctx, core.InboundMessage{
		Topic:      Topic,
		Payload:    body,
		ReceivedAt: s.now().UTC(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}
