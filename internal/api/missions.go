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
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/reeflab/colonyd/internal/store"
	"github.com/reeflab/colonyd/internal/workflow"
	colonyerrors "github.com/reeflab/colonyd/pkg/errors"
)

type createMissionRequest struct {
	ColonyID string `json:"colony_id"`
	Prompt   string `json:"prompt"`
	Workflow string `json:"workflow"`
}

// handleCreateMission creates a mission outside the sequential queue
// (queue_position stays nil). A mission naming a resolvable workflow
// is expanded and moved to running immediately, per §3's "running
// implies working-directory set" invariant.
func (a *api) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var req createMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.ColonyID == "" {
		badRequest(w, "colony_id is required")
		return
	}

	var manifest *workflow.Manifest
	if req.Workflow != "" {
		m, ok := a.Workflows.Get(req.Workflow)
		if !ok {
			writeErr(w, &colonyerrors.NotFoundError{Resource: "workflow", ID: req.Workflow})
			return
		}
		manifest = m
	}

	tx, err := a.Store.Begin(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	if _, err := store.GetColony(r.Context(), tx.Raw(), req.ColonyID); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}

	now := store.Now()
	m := &store.Mission{
		ID:          uuid.NewString(),
		ColonyID:    req.ColonyID,
		Prompt:      req.Prompt,
		Workflow:    req.Workflow,
		Status:      store.MissionPending,
		CreatedAtMs: now,
	}
	if err := store.CreateMission(r.Context(), tx.Raw(), m); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if a.Broadcaster != nil {
		a.Broadcaster.MissionCreated(m)
	}

	if manifest != nil {
		workDir := "burrows/mission-" + m.ID
		if err := store.ActivateMission(r.Context(), tx.Raw(), m.ID, workDir); err != nil {
			tx.Rollback()
			writeErr(w, err)
			return
		}
		m.Status = store.MissionRunning
		m.WorkDir = workDir
		if err := workflow.Expand(r.Context(), tx.Raw(), a.Workflows, manifest, m.ID, m.Prompt, a.Broadcaster); err != nil {
			tx.Rollback()
			writeErr(w, err)
			return
		}
		if a.Broadcaster != nil {
			a.Broadcaster.MissionUpdated(m)
		}
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
	writeOK(w, missionResponse(m))
}

func (a *api) handleListMissions(w http.ResponseWriter, r *http.Request) {
	var missions []*store.Mission
	err := a.Store.Read(r.Context(), func(tx *sql.Tx) error {
		var err error
		missions, err = store.ListMissions(r.Context(), tx)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"missions": missions})
}

func (a *api) handleGetMission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var (
		mission *store.Mission
		tasks   []*store.Task
	)
	err := a.Store.Read(r.Context(), func(tx *sql.Tx) error {
		var err error
		mission, err = store.GetMission(r.Context(), tx, id)
		if err != nil {
			return err
		}
		tasks, err = store.ListTasksByMission(r.Context(), tx, id)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"mission": mission, "tasks": tasks})
}

func missionResponse(m *store.Mission) map[string]any {
	return map[string]any{"mission": m}
}
