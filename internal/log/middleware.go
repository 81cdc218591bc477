// Copyright 2025 Tom Barlow
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

package log

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// statusWriter wraps http.ResponseWriter to capture the status code
// written by the wrapped handler; http.ResponseWriter has no getter.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// RequestMiddleware wraps an http.Handler with structured request
// logging: one line on arrival, one on completion with status and
// duration. Each request is tagged with a generated request id so the
// two lines (and any handler-internal logging) can be correlated.
type RequestMiddleware struct {
	logger *slog.Logger
}

// NewRequestMiddleware creates a new HTTP logging middleware.
func NewRequestMiddleware(logger *slog.Logger) *RequestMiddleware {
	return &RequestMiddleware{logger: logger}
}

// Wrap returns next instrumented with request/response logging.
func (m *RequestMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		start := time.Now()

		m.logger.Info("http request received",
			EventKey, "http_request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
		)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		if sw.status >= 500 {
			level = slog.LevelError
		} else if sw.status >= 400 {
			level = slog.LevelWarn
		}

		m.logger.Log(r.Context(), level, "http request completed",
			EventKey, "http_response",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			DurationKey, time.Since(start).Milliseconds(),
		)
	})
}
