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

package api

import (
	"encoding/json"
	"net/http"

	colonyerrors "github.com/reeflab/colonyd/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeOK(w http.ResponseWriter, data any) {
	merged := map[string]any{"ok": true}
	if m, ok := data.(map[string]any); ok {
		for k, v := range m {
			merged[k] = v
		}
	} else if data != nil {
		merged["data"] = data
	}
	writeJSON(w, http.StatusOK, merged)
}

// writeErr maps err to the §7 taxonomy ({ok:false, error:<string>}) and
// the matching HTTP status: ValidationError/ConflictError → 400,
// NotFoundError → 404, anything else → 500. Errors implementing
// ErrorClassifier also surface their type and retryability, so a
// client can tell a transient timeout from a permanent conflict
// without string-matching the message.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ve *colonyerrors.ValidationError
	var ce *colonyerrors.ConflictError
	var ne *colonyerrors.NotFoundError
	switch {
	case colonyerrors.As(err, &ve), colonyerrors.As(err, &ce):
		status = http.StatusBadRequest
	case colonyerrors.As(err, &ne):
		status = http.StatusNotFound
	}

	body := map[string]any{"ok": false, "error": err.Error()}
	var classifier colonyerrors.ErrorClassifier
	if colonyerrors.As(err, &classifier) {
		body["error_type"] = classifier.ErrorType()
		body["retryable"] = classifier.IsRetryable()
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": message})
}
