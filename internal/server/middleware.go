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
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/color-api/internal/apperr"
	"github.com/Brownie44l1/color-api/internal/logging"
)

// withMiddleware wraps API handlers with the common middleware chain.
func (s *Server) withMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return s.metricsMiddleware(
		s.requestIDMiddleware(
			s.panicRecoveryMiddleware(
				s.loggingMiddleware(
					s.corsMiddleware(handler),
				),
			),
		),
	)
}

// metricsMiddleware records request count, latency and in-flight requests.
func (s *Server) metricsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		wrapped := newResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		path := s.routeLabel(r.URL.Path)
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.Status())).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	}
}

// requestIDMiddleware keeps a client supplied UUID or generates a new one.
func (s *Server) requestIDMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// panicRecoveryMiddleware turns a handler panic into an InternalError response.
func (s *Server) panicRecoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rw := newResponseWriter(w)
		defer func() {
			if err := recover(); err != nil {
				s.metrics.PanicRecoveries.Inc()
				s.log.WithFields(logrus.Fields{
					logging.RequestIDKey: RequestID(r.Context()),
					"error":              fmt.Sprintf("%v", err),
					"path":               r.URL.Path,
					"method":             r.Method,
				}).Error("panic recovered")
				if !rw.Written() {
					WriteError(rw, apperr.New(apperr.KindInternal, "internal server error"))
				}
			}
		}()
		next.ServeHTTP(rw, r)
	}
}

// loggingMiddleware logs request start and completion at debug level.
func (s *Server) loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		entry := s.log.WithFields(logrus.Fields{
			logging.RequestIDKey: RequestID(r.Context()),
			"method":             r.Method,
			"path":               r.URL.Path,
		})

		rw := newResponseWriter(w)

		entry.Debug("request started")

		next.ServeHTTP(rw, r)

		entry.WithFields(logrus.Fields{
			"status":   rw.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request completed")
	}
}

// corsMiddleware allows browser clients posting canvas data URIs and answers
// preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func (s *Server) allowedOrigin(origin string) string {
	if slices.Contains(s.config.CORSOrigins, "*") {
		return "*"
	}
	if origin != "" && slices.Contains(s.config.CORSOrigins, origin) {
		return origin
	}
	return ""
}

// routeLabel bounds metric label cardinality to registered routes.
func (s *Server) routeLabel(path string) string {
	if _, ok := s.routes[path]; ok {
		return path
	}
	return "other"
}
