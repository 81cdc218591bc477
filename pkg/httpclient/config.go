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
	"fmt"
	"time"
)

// Config configures the HTTP client with timeout, retry, and observability settings.
type Config struct {
	// Timeout is the total request timeout (includes retries).
	// Default: 15s. Must be > 0.
	Timeout time.Duration

	// RetryAttempts is the maximum number of retry attempts (0 = no retries).
	// Default: 2. Must be >= 0.
	RetryAttempts int

	// RetryBackoff is the initial backoff delay before first retry.
	// Default: 200ms. Must be > 0 if RetryAttempts > 0.
	RetryBackoff time.Duration

	// MaxBackoff is the maximum backoff delay cap.
	// Default: 10s. Must be >= RetryBackoff.
	MaxBackoff time.Duration

	// UserAgent is the User-Agent header value.
	// Required. Must be non-empty.
	UserAgent string

	// AllowNonIdempotentRetry enables retry for non-idempotent methods (POST, PUT, PATCH, DELETE).
	// Default: false (only retry GET, HEAD, OPTIONS for safety).
	AllowNonIdempotentRetry bool
}

// DefaultConfig returns a Config with sensible defaults for the
// merge-wait poller and the code-forge issue/PR client.
func DefaultConfig() Config {
	return Config{
		Timeout:                 15 * time.Second,
		RetryAttempts:           2,
		RetryBackoff:            200 * time.Millisecond,
		MaxBackoff:              10 * time.Second,
		UserAgent:               "colonyd-forge-client/1.0",
		AllowNonIdempotentRetry: false,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be >= 0, got %d", c.RetryAttempts)
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return fmt.Errorf("retry_backoff must be > 0 when retry_attempts > 0, got %v", c.RetryBackoff)
		}
		if c.MaxBackoff < c.RetryBackoff {
			return fmt.Errorf("max_backoff (%v) must be >= retry_backoff (%v)", c.MaxBackoff, c.RetryBackoff)
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}
	return nil
}
