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

	"github.com/google/uuid"

	"github.com/reeflab/colonyd/internal/store"
)

type createTaskRequest struct {
	MissionID string `json:"mission_id"`
	Title     string `json:"title"`
	Role      string `json:"role"`
	Prompt    string `json:"prompt"`
}

// handleCreateTask creates an ad-hoc task outside any workflow DAG
// (step_id stays empty, so it never participates in cascade). It is
// queued immediately and picked up by the next scheduler tick.
func (a *api) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.MissionID == "" {
		badRequest(w, "mission_id is required")
		return
	}
	if req.Title == "" {
		badRequest(w, "title is required")
		return
	}

	tx, err := a.Store.Begin(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	mission, err := store.GetMission(r.Context(), tx.Raw(), req.MissionID)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}

	now := store.Now()
	t := &store.Task{
		ID:          uuid.NewString(),
		MissionID:   mission.ID,
		Title:       req.Title,
		Role:        req.Role,
		Prompt:      req.Prompt,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	if err := store.CreateAdHocTask(r.Context(), tx.Raw(), t); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if a.Broadcaster != nil {
		a.Broadcaster.TaskCreated(t)
	}

	assignments, err := tickScheduler(r.Context(), tx.Raw(), a.Broadcaster)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	a.dispatch(assignments)
	writeOK(w, map[string]any{"task": t})
}
