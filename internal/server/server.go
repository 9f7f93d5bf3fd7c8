// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Modified for color-api: adapted to its routes, error taxonomy and logger.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/color-api/internal/apperr"
	"github.com/Brownie44l1/color-api/internal/config"
	"github.com/Brownie44l1/color-api/internal/logging"
	"github.com/Brownie44l1/color-api/internal/metrics"
)

// Server owns the API listener and the optional admin listener serving
// health, readiness and metrics.
type Server struct {
	config   config.ServerConfig
	admin    config.AdminConfig
	routes   map[string]http.HandlerFunc
	log      *logrus.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	listen   func(network, address string) (net.Listener, error)

	mu        sync.RWMutex
	ready     bool
	apiAddr   net.Addr
	adminAddr net.Addr
	started   chan struct{}
}

type Option func(*Server)

// WithRoute registers an API handler behind the middleware chain.
func WithRoute(path string, handler http.HandlerFunc) Option {
	return func(s *Server) {
		s.routes[path] = handler
	}
}

func WithLogger(log *logrus.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithMetrics sets the collectors used by middleware and the gatherer
// exposed on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithListenFunc replaces net.Listen.
func WithListenFunc(fn func(network, address string) (net.Listener, error)) Option {
	return func(s *Server) {
		s.listen = fn
	}
}

func New(cfg config.ServerConfig, admin config.AdminConfig, opts ...Option) *Server {
	s := &Server{
		config:  cfg,
		admin:   admin,
		routes:  map[string]http.HandlerFunc{},
		listen:  net.Listen,
		started: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.metrics == nil {
		reg := prometheus.NewRegistry()
		s.metrics = metrics.New(reg)
		s.gatherer = reg
	}
	return s
}

// Handler returns the API mux with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for path, h := range s.routes {
		mux.HandleFunc(path, s.withMiddleware(h))
	}
	if _, ok := s.routes["/"]; !ok {
		mux.HandleFunc("/", s.withMiddleware(s.handleNotFound))
	}
	return mux
}

// AdminHandler returns the mux for /healthz, /readyz and /metrics.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, apperr.New(apperr.KindNotFound, fmt.Sprintf("no route for %s", r.URL.Path)))
}

// SetReady marks the server as ready to serve traffic
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Started is closed once every listener is bound.
func (s *Server) Started() <-chan struct{} {
	return s.started
}

// APIAddr returns the bound API address, or nil before Started.
func (s *Server) APIAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiAddr
}

// AdminAddr returns the bound admin address, or nil when disabled.
func (s *Server) AdminAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adminAddr
}

// Run binds the listeners and serves until ctx is cancelled, then shuts
// down gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	apiLn, err := s.listen("tcp", fmt.Sprintf("%s:%d", s.config.Address, s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to bind API listener: %w", err)
	}

	servers := []*http.Server{s.httpServer(s.Handler())}
	listeners := []net.Listener{apiLn}

	s.mu.Lock()
	s.apiAddr = apiLn.Addr()
	s.mu.Unlock()

	if s.admin.Port > 0 {
		adminLn, err := s.listen("tcp", fmt.Sprintf("%s:%d", s.admin.Address, s.admin.Port))
		if err != nil {
			apiLn.Close()
			return fmt.Errorf("failed to bind admin listener: %w", err)
		}
		servers = append(servers, s.httpServer(s.AdminHandler()))
		listeners = append(listeners, adminLn)

		s.mu.Lock()
		s.adminAddr = adminLn.Addr()
		s.mu.Unlock()
	}

	s.log.WithFields(logrus.Fields{
		"api":   s.APIAddr().String(),
		"admin": addrString(s.AdminAddr()),
	}).Info("server listening")

	g, gctx := errgroup.WithContext(ctx)
	for i := range servers {
		srv, ln := servers[i], listeners[i]
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	s.SetReady(true)
	close(s.started)

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(servers)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	s.log.Info("server stopped gracefully")
	return nil
}

func (s *Server) shutdown(servers []*http.Server) error {
	s.SetReady(false)
	s.log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) httpServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:      h,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return "disabled"
	}
	return a.String()
}
