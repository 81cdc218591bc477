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

// Package httpclient provides a unified HTTP client factory with
// consistent timeout, retry, and observability behavior for colonyd's
// external collaborators (the code-forge REST client, §6).
//
// The client composes transport layers:
//   - Automatic retries with exponential backoff and jitter
//   - Request logging with sanitized URLs (sensitive params redacted)
//   - User-Agent header injection
//   - TLS 1.2+ with secure defaults
//   - Connection pooling for performance
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// New creates a new HTTP client with the given configuration.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseTransport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	loggingTrans := newLoggingTransport(baseTransport, cfg.UserAgent)

	var finalTransport http.RoundTripper = loggingTrans
	if cfg.RetryAttempts > 0 {
		finalTransport = newRetryTransport(loggingTrans, cfg)
	}

	return &http.Client{
		Transport: finalTransport,
		Timeout:   cfg.Timeout,
	}, nil
}
