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
	colonyerrors "github.com/reeflab/colonyd/pkg/errors"
)

type createColonyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Repo        string `json:"repo"`
}

func (a *api) handleCreateColony(w http.ResponseWriter, r *http.Request) {
	var req createColonyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	if !store.ValidRepo(req.Repo) {
		badRequest(w, "repo must match owner/name")
		return
	}

	c := &store.Colony{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Repo:        req.Repo,
		CreatedAtMs: store.Now(),
	}

	tx, err := a.Store.Begin(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := store.CreateColony(r.Context(), tx.Raw(), c); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	if a.Broadcaster != nil {
		a.Broadcaster.ColonyCreated(c)
	}
	writeOK(w, colonyResponse(c))
}

func (a *api) handleListColonies(w http.ResponseWriter, r *http.Request) {
	var colonies []*store.Colony
	err := a.Store.Read(r.Context(), func(tx *sql.Tx) error {
		var err error
		colonies, err = store.ListColonies(r.Context(), tx)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"colonies": colonies})
}

type updateColonyRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Repo        *string `json:"repo"`
}

func (a *api) handleUpdateColony(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateColonyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	tx, err := a.Store.Begin(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	c, err := store.GetColony(r.Context(), tx.Raw(), id)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.Repo != nil {
		c.Repo = *req.Repo
	}
	if err := store.UpdateColony(r.Context(), tx.Raw(), c); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, colonyResponse(c))
}

func (a *api) handleListIssues(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var colony *store.Colony
	var queuedIssues map[int]bool
	err := a.Store.Read(r.Context(), func(tx *sql.Tx) error {
		var err error
		colony, err = store.GetColony(r.Context(), tx, id)
		if err != nil {
			return err
		}
		missions, err := store.ListMissionsByColony(r.Context(), tx, id)
		if err != nil {
			return err
		}
		queuedIssues = make(map[int]bool)
		for _, m := range missions {
			if m.IssueNumber != nil && !m.Status.IsTerminal() {
				queuedIssues[*m.IssueNumber] = true
			}
		}
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if colony.Repo == "" {
		badRequest(w, "colony has no bound repo")
		return
	}
	if a.Forge == nil {
		writeErr(w, colonyerrors.New("no code-forge client configured"))
		return
	}

	issues, err := a.Forge.ListOpenIssues(r.Context(), colony.Repo)
	if err != nil {
		writeErr(w, err)
		return
	}

	type issueResponse struct {
		Number        int      `json:"number"`
		Title         string   `json:"title"`
		Body          string   `json:"body"`
		Labels        []string `json:"labels"`
		State         string   `json:"state"`
		AlreadyQueued bool     `json:"already_queued"`
	}
	out := make([]issueResponse, 0, len(issues))
	for _, iss := range issues {
		out = append(out, issueResponse{
			Number:        iss.Number,
			Title:         iss.Title,
			Body:          iss.Body,
			Labels:        iss.Labels,
			State:         iss.State,
			AlreadyQueued: queuedIssues[iss.Number],
		})
	}
	writeOK(w, map[string]any{"issues": out})
}

func (a *api) handleListQueue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var missions []*store.Mission
	err := a.Store.Read(r.Context(), func(tx *sql.Tx) error {
		all, err := store.ListMissionsByColony(r.Context(), tx, id)
		if err != nil {
			return err
		}
		for _, m := range all {
			if m.QueuePosition != nil {
				missions = append(missions, m)
			}
		}
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"queue": missions})
}

type queueIssueRequest struct {
	IssueNumber int    `json:"issue_number"`
	Workflow    string `json:"workflow"`
}

const defaultQueueWorkflow = "dev-task"

func (a *api) handleQueueIssue(w http.ResponseWriter, r *http.Request) {
	colonyID := r.PathValue("id")
	var req queueIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.IssueNumber == 0 {
		badRequest(w, "issue_number is required")
		return
	}
	if req.Workflow == "" {
		req.Workflow = defaultQueueWorkflow
	}

	tx, err := a.Store.Begin(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	colony, err := store.GetColony(r.Context(), tx.Raw(), colonyID)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if colony.Repo == "" {
		tx.Rollback()
		badRequest(w, "colony has no bound repo")
		return
	}

	already, err := store.AlreadyQueuedIssue(r.Context(), tx.Raw(), colonyID, req.IssueNumber)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if already {
		tx.Rollback()
		writeErr(w, &colonyerrors.ConflictError{Resource: "issue", Reason: "issue already queued"})
		return
	}

	if _, ok := a.Workflows.Get(req.Workflow); !ok {
		tx.Rollback()
		writeErr(w, &colonyerrors.NotFoundError{Resource: "workflow", ID: req.Workflow})
		return
	}

	prompt := ""
	if a.Forge != nil {
		if issue, err := a.Forge.GetIssue(r.Context(), colony.Repo, req.IssueNumber); err == nil {
			prompt = issue.Title + "\n\n" + issue.Body
		}
	}

	pos, err := store.NextQueuePosition(r.Context(), tx.Raw(), colonyID)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}

	m := &store.Mission{
		ID:            uuid.NewString(),
		ColonyID:      colonyID,
		Prompt:        prompt,
		Workflow:      req.Workflow,
		Status:        store.MissionPending,
		QueuePosition: &pos,
		IssueNumber:   &req.IssueNumber,
		CreatedAtMs:   store.Now(),
	}
	if err := store.CreateMission(r.Context(), tx.Raw(), m); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if a.Broadcaster != nil {
		a.Broadcaster.MissionCreated(m)
	}

	// Activation is triggered on queueing a new issue, per §4.6.
	if a.Queue != nil {
		if err := a.Queue.Activate(r.Context(), tx.Raw(), colonyID); err != nil {
			tx.Rollback()
			writeErr(w, err)
			return
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

func (a *api) handleDequeueMission(w http.ResponseWriter, r *http.Request) {
	missionID := r.PathValue("mission_id")

	tx, err := a.Store.Begin(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	m, err := store.GetMission(r.Context(), tx.Raw(), missionID)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if m.Status != store.MissionPending {
		tx.Rollback()
		writeErr(w, &colonyerrors.ConflictError{Resource: "mission", Reason: "only a pending mission may be removed from the queue"})
		return
	}
	if err := store.DeleteMission(r.Context(), tx.Raw(), missionID); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

func colonyResponse(c *store.Colony) map[string]any {
	return map[string]any{"colony": c}
}
