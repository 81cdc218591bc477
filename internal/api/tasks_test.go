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

func createMission(t *testing.T, router http.Handler, colonyID string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/v1/missions", map[string]any{"colony_id": colonyID, "prompt": "ad hoc mission"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Mission struct {
			ID string `json:"ID"`
		} `json:"mission"`
	}
	decodeBody(t, rec, &body)
	return body.Mission.ID
}

func TestCreateTask_RejectsMissingFields(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/tasks", map[string]any{"title": "do it"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/tasks", map[string]any{"mission_id": "m-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTask_RejectsUnknownMission(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/v1/tasks", map[string]any{"mission_id": "does-not-exist", "title": "do it"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTask_AdHocTaskHasNoStepID(t *testing.T) {
	router, st, _ := newTestRouter(t)
	seedColony(t, st, "col-1", "acme/reef")
	missionID := createMission(t, router, "col-1")

	rec := doJSON(t, router, http.MethodPost, "/v1/tasks", map[string]any{"mission_id": missionID, "title": "investigate", "role": "any"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Task struct {
			StepID string `json:"StepID"`
			Status string `json:"Status"`
		} `json:"task"`
	}
	decodeBody(t, rec, &body)
	assert.Empty(t, body.Task.StepID)
	assert.Equal(t, "queued", body.Task.Status)
}
