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

package store

import (
	"context"
	"database/sql"

	colonyerrors "github.com/reeflab/colonyd/pkg/errors"
)

// CreateRun inserts a new run row.
func CreateRun(ctx context.Context, q Querier, r *Run) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO runs (
			id, mission_id, task_id, crab_id, status, burrow_path, burrow_mode, progress, summary,
			prompt_tokens, completion_tokens, total_tokens, total_tokens_set,
			first_token_ms, llm_duration_ms, exec_duration_ms, end_to_end_ms,
			started_at_ms, updated_at_ms, completed_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MissionID, r.TaskID, r.CrabID, string(r.Status), r.BurrowPath, string(r.BurrowMode), r.Progress, r.Summary,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens, boolToInt(r.TotalTokensSet),
		int64PtrToNull(r.FirstTokenMs), int64PtrToNull(r.LLMDurationMs), int64PtrToNull(r.ExecDurationMs), int64PtrToNull(r.EndToEndMs),
		r.StartedAtMs, r.UpdatedAtMs, int64PtrToNull(r.CompletedAtMs))
	if err != nil {
		return colonyerrors.Wrap(err, "creating run")
	}
	return nil
}

func scanRun(row *sql.Row) (*Run, error) {
	var r Run
	var status, mode string
	var totalSet int
	var firstToken, llmDur, execDur, e2e, completedAt sql.NullInt64
	if err := row.Scan(&r.ID, &r.MissionID, &r.TaskID, &r.CrabID, &status, &r.BurrowPath, &mode, &r.Progress, &r.Summary,
		&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &totalSet,
		&firstToken, &llmDur, &execDur, &e2e,
		&r.StartedAtMs, &r.UpdatedAtMs, &completedAt); err != nil {
		return nil, err
	}
	r.Status = normalizeRunStatus(status)
	r.BurrowMode = normalizeBurrowMode(mode)
	r.TotalTokensSet = totalSet != 0
	r.FirstTokenMs = nullToInt64Ptr(firstToken)
	r.LLMDurationMs = nullToInt64Ptr(llmDur)
	r.ExecDurationMs = nullToInt64Ptr(execDur)
	r.EndToEndMs = nullToInt64Ptr(e2e)
	r.CompletedAtMs = nullToInt64Ptr(completedAt)
	return &r, nil
}

func normalizeRunStatus(s string) RunStatus {
	switch RunStatus(s) {
	case RunRunning, RunBlocked, RunCompleted, RunFailed:
		return RunStatus(s)
	default:
		return RunQueued
	}
}

func normalizeBurrowMode(s string) BurrowMode {
	if BurrowMode(s) == BurrowExternalRepo {
		return BurrowExternalRepo
	}
	return BurrowWorktree
}

const runColumns = `id, mission_id, task_id, crab_id, status, burrow_path, burrow_mode, progress, summary,
	prompt_tokens, completion_tokens, total_tokens, total_tokens_set,
	first_token_ms, llm_duration_ms, exec_duration_ms, end_to_end_ms,
	started_at_ms, updated_at_ms, completed_at_ms`

// GetRun fetches a run by id.
func GetRun(ctx context.Context, q Querier, id string) (*Run, error) {
	row := q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		return nil, &colonyerrors.NotFoundError{Resource: "run", ID: id}
	}
	return r, nil
}

// ListRuns returns every run, oldest first.
func ListRuns(ctx context.Context, q Querier) ([]*Run, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at_ms ASC`)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing runs")
	}
	defer rows.Close()
	return scanRunRows(rows)
}

// ListRunsByTask returns a task's runs, oldest first.
func ListRunsByTask(ctx context.Context, q Querier, taskID string) ([]*Run, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE task_id = ? ORDER BY started_at_ms ASC`, taskID)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing runs by task")
	}
	defer rows.Close()
	return scanRunRows(rows)
}

// CompletedRunsByMission returns a mission's completed runs ordered by
// completed-at descending (latest wins on duplicate keys, per §4.4 step 3).
func CompletedRunsByMission(ctx context.Context, q Querier, missionID string) ([]*Run, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE mission_id = ? AND status = 'completed'
		ORDER BY completed_at_ms DESC`, missionID)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing completed runs by mission")
	}
	defer rows.Close()
	return scanRunRows(rows)
}

// CompletedRunCountForTask counts completed runs recorded against a
// task (review-retry budget enforcement, §4.4 step 5 / SPEC_FULL §4.4).
func CompletedRunCountForTask(ctx context.Context, q Querier, taskID string) (int, error) {
	row := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE task_id = ? AND status = 'completed'`, taskID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, colonyerrors.Wrap(err, "counting completed runs for task")
	}
	return n, nil
}

func scanRunRows(rows *sql.Rows) ([]*Run, error) {
	var out []*Run
	for rows.Next() {
		var r Run
		var status, mode string
		var totalSet int
		var firstToken, llmDur, execDur, e2e, completedAt sql.NullInt64
		if err := rows.Scan(&r.ID, &r.MissionID, &r.TaskID, &r.CrabID, &status, &r.BurrowPath, &mode, &r.Progress, &r.Summary,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &totalSet,
			&firstToken, &llmDur, &execDur, &e2e,
			&r.StartedAtMs, &r.UpdatedAtMs, &completedAt); err != nil {
			return nil, colonyerrors.Wrap(err, "scanning run")
		}
		r.Status = normalizeRunStatus(status)
		r.BurrowMode = normalizeBurrowMode(mode)
		r.TotalTokensSet = totalSet != 0
		r.FirstTokenMs = nullToInt64Ptr(firstToken)
		r.LLMDurationMs = nullToInt64Ptr(llmDur)
		r.ExecDurationMs = nullToInt64Ptr(execDur)
		r.EndToEndMs = nullToInt64Ptr(e2e)
		r.CompletedAtMs = nullToInt64Ptr(completedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpdateRunPartial merges in whichever fields are non-nil/non-empty,
// implementing the partial-merge semantics of POST /v1/runs/update.
// Token accounting follows invariant 7: an explicit TotalTokens wins
// and is remembered (TotalTokensSet); otherwise total is recomputed as
// prompt+completion on saturating add.
func UpdateRunPartial(ctx context.Context, q Querier, r *Run) error {
	_, err := q.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, progress = ?, summary = ?,
			prompt_tokens = ?, completion_tokens = ?, total_tokens = ?, total_tokens_set = ?,
			first_token_ms = ?, llm_duration_ms = ?, exec_duration_ms = ?, end_to_end_ms = ?,
			updated_at_ms = ?
		WHERE id = ?`,
		string(r.Status), r.Progress, r.Summary,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens, boolToInt(r.TotalTokensSet),
		int64PtrToNull(r.FirstTokenMs), int64PtrToNull(r.LLMDurationMs), int64PtrToNull(r.ExecDurationMs), int64PtrToNull(r.EndToEndMs),
		r.UpdatedAtMs, r.ID)
	if err != nil {
		return colonyerrors.Wrap(err, "updating run")
	}
	return nil
}

// CompleteRun transitions a run to a terminal status with a summary,
// per invariant: completed_at non-null iff status terminal.
func CompleteRun(ctx context.Context, q Querier, id string, status RunStatus, summary string, completedAtMs int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE runs SET status = ?, summary = ?, completed_at_ms = ?, updated_at_ms = ? WHERE id = ?`,
		string(status), summary, completedAtMs, completedAtMs, id)
	if err != nil {
		return colonyerrors.Wrap(err, "completing run")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func int64PtrToNull(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullToInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
