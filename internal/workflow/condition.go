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

package workflow

import "strings"

// EvaluateCondition implements the trivial one-equality condition
// grammar: "LHS == RHS" where LHS is a context-map key and RHS is a
// single- or double-quoted string literal. Whitespace is stripped
// before splitting on the first "==". Malformed expressions and
// unknown keys evaluate false, never error — conditions must never
// abort a cascade.
func EvaluateCondition(expr string, context map[string]string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}

	idx := strings.Index(expr, "==")
	if idx < 0 {
		return false
	}

	lhs := strings.TrimSpace(expr[:idx])
	rhs := strings.TrimSpace(expr[idx+2:])
	rhs, ok := unquote(rhs)
	if !ok {
		return false
	}

	val, found := context[lhs]
	if !found {
		return false
	}
	return val == rhs
}

func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	first, last := s[0], s[len(s)-1]
	if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
		return s[1 : len(s)-1], true
	}
	return "", false
}
