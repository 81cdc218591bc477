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

	"github.com/reeflab/colonyd/internal/cascade"
	"github.com/reeflab/colonyd/internal/store"
	colonyerrors "github.com/reeflab/colonyd/pkg/errors"
)

type startRunRequest struct {
	TaskID string `json:"task_id"`
	CrabID string `json:"crab_id"`
}

// handleStartRun begins a run for a task a crab has been assigned (or
// is claiming directly, per §5's "queued → running (direct start_run)"
// transition). The crab moves to busy with its current run attached.
func (a *api) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.TaskID == "" || req.CrabID == "" {
		badRequest(w, "task_id and crab_id are required")
		return
	}

	tx, err := a.Store.Begin(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	task, err := store.GetTask(r.Context(), tx.Raw(), req.TaskID)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if task.Status.IsTerminal() {
		tx.Rollback()
		writeErr(w, &colonyerrors.ConflictError{Resource: "task", Reason: "task is already terminal"})
		return
	}

	now := store.Now()
	run := &store.Run{
		ID:          uuid.NewString(),
		MissionID:   task.MissionID,
		TaskID:      task.ID,
		CrabID:      req.CrabID,
		Status:      store.RunRunning,
		BurrowMode:  store.BurrowWorktree,
		StartedAtMs: now,
		UpdatedAtMs: now,
	}
	if err := store.CreateRun(r.Context(), tx.Raw(), run); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if a.Broadcaster != nil {
		a.Broadcaster.RunCreated(run)
	}

	if err := store.UpdateTaskStatus(r.Context(), tx.Raw(), task.ID, store.TaskRunning, now); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	task.Status = store.TaskRunning
	if a.Broadcaster != nil {
		a.Broadcaster.TaskUpdated(task)
	}

	if err := store.AssignCrab(r.Context(), tx.Raw(), req.CrabID, task.ID, run.ID, now); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"run": run})
}

type updateRunRequest struct {
	RunID            string `json:"run_id"`
	Status           string `json:"status"`
	Progress         string `json:"progress"`
	Summary          string `json:"summary"`
	PromptTokens     *int64 `json:"prompt_tokens"`
	CompletionTokens *int64 `json:"completion_tokens"`
	TotalTokens      *int64 `json:"total_tokens"`
	FirstTokenMs     *int64 `json:"first_token_ms"`
	LLMDurationMs    *int64 `json:"llm_duration_ms"`
	ExecDurationMs   *int64 `json:"exec_duration_ms"`
	EndToEndMs       *int64 `json:"end_to_end_ms"`
}

// handleUpdateRun applies a partial merge onto a run's progress report
// fields, per invariant 7's token-accounting rule: an explicit
// total_tokens wins and is remembered, otherwise the total is
// recomputed as prompt+completion on saturating add.
func (a *api) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	var req updateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.RunID == "" {
		badRequest(w, "run_id is required")
		return
	}

	tx, err := a.Store.Begin(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	run, err := store.GetRun(r.Context(), tx.Raw(), req.RunID)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if run.Status.IsTerminal() {
		tx.Rollback()
		writeErr(w, &colonyerrors.ConflictError{Resource: "run", Reason: "run is already terminal"})
		return
	}

	if req.Status != "" {
		status := store.RunStatus(req.Status)
		if status != store.RunRunning && status != store.RunBlocked {
			tx.Rollback()
			badRequest(w, "status must be running or blocked for /runs/update")
			return
		}
		run.Status = status
	}
	if req.Progress != "" {
		run.Progress = req.Progress
	}
	if req.Summary != "" {
		run.Summary = req.Summary
	}
	if req.PromptTokens != nil {
		run.PromptTokens = *req.PromptTokens
	}
	if req.CompletionTokens != nil {
		run.CompletionTokens = *req.CompletionTokens
	}
	if req.TotalTokens != nil {
		run.TotalTokens = *req.TotalTokens
		run.TotalTokensSet = true
	} else if !run.TotalTokensSet && (req.PromptTokens != nil || req.CompletionTokens != nil) {
		run.TotalTokens = saturatingAdd(run.PromptTokens, run.CompletionTokens)
	}
	if req.FirstTokenMs != nil {
		run.FirstTokenMs = req.FirstTokenMs
	}
	if req.LLMDurationMs != nil {
		run.LLMDurationMs = req.LLMDurationMs
	}
	if req.ExecDurationMs != nil {
		run.ExecDurationMs = req.ExecDurationMs
	}
	if req.EndToEndMs != nil {
		run.EndToEndMs = req.EndToEndMs
	}
	run.UpdatedAtMs = store.Now()

	if err := store.UpdateRunPartial(r.Context(), tx.Raw(), run); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	if a.Broadcaster != nil {
		a.Broadcaster.RunUpdated(run)
	}
	writeOK(w, map[string]any{"run": run})
}

func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if sum < a || sum < b {
		return int64(^uint64(0) >> 1)
	}
	return sum
}

type completeRunRequest struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// handleCompleteRun is the terminal run transition: it closes the run,
// mirrors the outcome onto its task, then runs cascade/scheduler to
// quiescence in the same transaction, per §4's transactional envelope.
func (a *api) handleCompleteRun(w http.ResponseWriter, r *http.Request) {
	var req completeRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.RunID == "" {
		badRequest(w, "run_id is required")
		return
	}
	status := store.RunStatus(req.Status)
	if status != store.RunCompleted && status != store.RunFailed {
		badRequest(w, "status must be completed or failed")
		return
	}

	tx, err := a.Store.Begin(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	run, err := store.GetRun(r.Context(), tx.Raw(), req.RunID)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if run.Status.IsTerminal() {
		tx.Rollback()
		writeErr(w, &colonyerrors.ConflictError{Resource: "run", Reason: "run is already terminal"})
		return
	}

	now := store.Now()
	if err := store.CompleteRun(r.Context(), tx.Raw(), run.ID, status, req.Summary, now); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	run.Status = status
	run.Summary = req.Summary
	run.CompletedAtMs = &now
	if a.Broadcaster != nil {
		a.Broadcaster.RunCompleted(run)
	}

	task, err := store.GetTask(r.Context(), tx.Raw(), run.TaskID)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}

	taskStatus := store.TaskCompleted
	if status == store.RunFailed {
		taskStatus = store.TaskFailed
	}
	if err := store.UpdateTaskStatus(r.Context(), tx.Raw(), task.ID, taskStatus, now); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	task.Status = taskStatus
	if a.Broadcaster != nil {
		a.Broadcaster.TaskUpdated(task)
	}

	if err := store.FreeCrab(r.Context(), tx.Raw(), run.CrabID, now); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if a.Broadcaster != nil {
		if crab, err := store.GetCrab(r.Context(), tx.Raw(), run.CrabID); err == nil {
			a.Broadcaster.CrabUpdated(crab)
		}
	}

	if err := cascade.Run(r.Context(), tx.Raw(), task.MissionID, task.ID, a.Broadcaster, a.Queue); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
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
	writeOK(w, map[string]any{"run": run})
}
