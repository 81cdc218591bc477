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
	"net/url"
	"strings"
)

// sensitiveParams contains query parameter names that should be redacted from logs.
// These are matched case-insensitively.
var sensitiveParams = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"auth",
	"secret",
	"key",
	"credential",
}

// sanitizeURL removes sensitive query parameters from URLs before logging.
// This prevents leaking API keys, tokens, and other secrets in logs.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	q := u.Query()
	for param := range q {
		if isSensitiveParam(param) {
			q.Set(param, "[REDACTED]")
		}
	}

	safe := *u
	safe.RawQuery = q.Encode()
	return safe.String()
}

// isSensitiveParam checks if a parameter name matches the sensitive list.
func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, sensitive := range sensitiveParams {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
