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

package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCrab_RejectsUnknownColony(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/crabs/register", map[string]any{"id": "crab-1", "colony_id": "does-not-exist"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterCrab_DefaultsRoleToAny(t *testing.T) {
	router, st, _ := newTestRouter(t)
	seedColony(t, st, "col-1", "acme/reef")

	rec := doJSON(t, router, http.MethodPost, "/v1/crabs/register", map[string]any{"id": "crab-1", "colony_id": "col-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Crab struct {
			Role string `json:"Role"`
		} `json:"crab"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "any", body.Crab.Role)
}

func TestRegisterCrab_ReRegistrationIsIdempotent(t *testing.T) {
	router, st, _ := newTestRouter(t)
	seedColony(t, st, "col-1", "acme/reef")

	rec := doJSON(t, router, http.MethodPost, "/v1/crabs/register", map[string]any{"id": "crab-1", "colony_id": "col-1", "role": "coder"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/crabs/register", map[string]any{"id": "crab-1", "colony_id": "col-1", "role": "coder"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/crabs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Crabs []map[string]any `json:"crabs"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Crabs, 1, "re-registering the same crab id must not duplicate the row")
}

func TestListCrabs_EmptyByDefault(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/v1/crabs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Crabs []map[string]any `json:"crabs"`
	}
	decodeBody(t, rec, &body)
	assert.Empty(t, body.Crabs)
}
