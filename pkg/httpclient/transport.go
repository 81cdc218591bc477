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

package httpclient

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingTransport wraps an http.RoundTripper to add request logging
// with sanitized URLs, User-Agent injection, and duration tracking.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
}

func newLoggingTransport(base http.RoundTripper, userAgent string) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{base: base, userAgent: userAgent}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()
	logURL := sanitizeURL(req.URL)

	if err != nil {
		slog.Warn("http request failed",
			"method", req.Method,
			"url", logURL,
			"duration_ms", duration,
			"error", err.Error())
	} else {
		level := slog.LevelDebug
		if resp.StatusCode >= 400 {
			level = slog.LevelWarn
		}
		slog.Log(req.Context(), level, "http request",
			"method", req.Method,
			"url", logURL,
			"status", resp.StatusCode,
			"duration_ms", duration)
	}

	return resp, err
}
