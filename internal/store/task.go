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

const taskColumns = `id, mission_id, title, assigned_crab_id, status, step_id, role, prompt, context, max_retries, created_at_ms, updated_at_ms`

const taskColumnsPrefixed = `t.id, t.mission_id, t.title, t.assigned_crab_id, t.status, t.step_id, t.role, t.prompt, t.context, t.max_retries, t.created_at_ms, t.updated_at_ms`

// CreateTask inserts a new task row.
func CreateTask(ctx context.Context, q Querier, t *Task) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MissionID, t.Title, t.AssignedCrab, string(t.Status), t.StepID, t.Role, t.Prompt, t.Context, t.MaxRetries, t.CreatedAtMs, t.UpdatedAtMs)
	if err != nil {
		return colonyerrors.Wrap(err, "creating task")
	}
	return nil
}

// CreateTaskDep inserts one dependency edge.
func CreateTaskDep(ctx context.Context, q Querier, taskID, dependsOnTaskID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO task_deps (task_id, depends_on_task_id) VALUES (?, ?)`, taskID, dependsOnTaskID)
	if err != nil {
		return colonyerrors.Wrap(err, "creating task dependency")
	}
	return nil
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	var status string
	if err := row.Scan(&t.ID, &t.MissionID, &t.Title, &t.AssignedCrab, &status, &t.StepID, &t.Role, &t.Prompt, &t.Context, &t.MaxRetries, &t.CreatedAtMs, &t.UpdatedAtMs); err != nil {
		return nil, err
	}
	t.Status = normalizeTaskStatus(status)
	return &t, nil
}

func normalizeTaskStatus(s string) TaskStatus {
	switch TaskStatus(s) {
	case TaskAssigned, TaskRunning, TaskBlocked, TaskCompleted, TaskFailed, TaskSkipped:
		return TaskStatus(s)
	default:
		return TaskQueued
	}
}

// GetTask fetches a task by id.
func GetTask(ctx context.Context, q Querier, id string) (*Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, &colonyerrors.NotFoundError{Resource: "task", ID: id}
	}
	return t, nil
}

// ListTasksByMission returns a mission's tasks in creation order.
func ListTasksByMission(ctx context.Context, q Querier, missionID string) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE mission_id = ? ORDER BY created_at_ms ASC`, missionID)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing tasks by mission")
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// ListTasks returns every task, oldest first.
func ListTasks(ctx context.Context, q Querier) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing tasks")
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// ListQueuedTasks returns every queued task, oldest first (scheduler input).
func ListQueuedTasks(ctx context.Context, q Querier) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = 'queued' ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing queued tasks")
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func scanTaskRows(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		var t Task
		var status string
		if err := rows.Scan(&t.ID, &t.MissionID, &t.Title, &t.AssignedCrab, &status, &t.StepID, &t.Role, &t.Prompt, &t.Context, &t.MaxRetries, &t.CreatedAtMs, &t.UpdatedAtMs); err != nil {
			return nil, colonyerrors.Wrap(err, "scanning task")
		}
		t.Status = normalizeTaskStatus(status)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DirectDependents returns the tasks that directly depend on taskID.
func DirectDependents(ctx context.Context, q Querier, taskID string) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+taskColumnsPrefixed+`
		FROM tasks t
		JOIN task_deps d ON d.task_id = t.id
		WHERE d.depends_on_task_id = ?
		ORDER BY t.created_at_ms ASC`, taskID)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing direct dependents")
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// DirectDependencies returns the tasks that taskID directly depends on,
// in the mission's creation order (used to assemble accumulated context).
func DirectDependencies(ctx context.Context, q Querier, taskID string) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+taskColumnsPrefixed+`
		FROM tasks t
		JOIN task_deps d ON d.depends_on_task_id = t.id
		WHERE d.task_id = ?
		ORDER BY t.created_at_ms ASC`, taskID)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing direct dependencies")
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// AllDependenciesTerminal reports whether every direct dependency of
// taskID is completed or skipped.
func AllDependenciesTerminal(ctx context.Context, q Querier, taskID string) (bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_deps d
		JOIN tasks t ON t.id = d.depends_on_task_id
		WHERE d.task_id = ? AND t.status NOT IN ('completed', 'skipped')`, taskID)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, colonyerrors.Wrap(err, "checking dependency terminality")
	}
	return n == 0, nil
}

// TaskByStepID finds the (unique, by convention) task within a mission
// whose step id matches. Returns nil, nil if absent.
func TaskByStepID(ctx context.Context, q Querier, missionID, stepID string) (*Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE mission_id = ? AND step_id = ? LIMIT 1`, missionID, stepID)
	t, err := scanTask(row)
	if err != nil {
		return nil, nil
	}
	return t, nil
}

// NonTerminalTaskCount counts tasks in a mission that are not yet terminal.
func NonTerminalTaskCount(ctx context.Context, q Querier, missionID string) (int, error) {
	row := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE mission_id = ? AND status NOT IN ('completed', 'failed', 'skipped')`, missionID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, colonyerrors.Wrap(err, "counting non-terminal tasks")
	}
	return n, nil
}

// FailedTaskCount counts failed tasks in a mission.
func FailedTaskCount(ctx context.Context, q Querier, missionID string) (int, error) {
	row := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE mission_id = ? AND status = 'failed'`, missionID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, colonyerrors.Wrap(err, "counting failed tasks")
	}
	return n, nil
}

// RunningTaskCountInMission counts tasks currently running in a mission
// (per-mission mutex check for the scheduler).
func RunningTaskCountInMission(ctx context.Context, q Querier, missionID string) (int, error) {
	row := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE mission_id = ? AND status = 'running'`, missionID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, colonyerrors.Wrap(err, "counting running tasks in mission")
	}
	return n, nil
}

// UpdateTaskStatus transitions a task's status and bumps updated_at.
func UpdateTaskStatus(ctx context.Context, q Querier, id string, status TaskStatus, updatedAtMs int64) error {
	_, err := q.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at_ms = ? WHERE id = ?`,
		string(status), updatedAtMs, id)
	if err != nil {
		return colonyerrors.Wrap(err, "updating task status")
	}
	return nil
}

// UpdateTaskStatusAndContext transitions status and replaces context
// (used by the cascade engine's blocked→queued and blocked→skipped transitions).
func UpdateTaskStatusAndContext(ctx context.Context, q Querier, id string, status TaskStatus, newContext string, updatedAtMs int64) error {
	_, err := q.ExecContext(ctx, `UPDATE tasks SET status = ?, context = ?, updated_at_ms = ? WHERE id = ?`,
		string(status), newContext, updatedAtMs, id)
	if err != nil {
		return colonyerrors.Wrap(err, "updating task status and context")
	}
	return nil
}

// AssignTask sets a task to assigned with a crab attached.
func AssignTask(ctx context.Context, q Querier, id, crabID string, updatedAtMs int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE tasks SET status = 'assigned', assigned_crab_id = ?, updated_at_ms = ? WHERE id = ?`,
		crabID, updatedAtMs, id)
	if err != nil {
		return colonyerrors.Wrap(err, "assigning task")
	}
	return nil
}

// CreateAdHocTask inserts a task with no step id (does not participate
// in cascade), queued immediately.
func CreateAdHocTask(ctx context.Context, q Querier, t *Task) error {
	t.Status = TaskQueued
	t.StepID = ""
	return CreateTask(ctx, q, t)
}

// ListMergeWaitQueuedTasks returns every queued merge-wait task, oldest
// first (the merge-wait poller's scan input, §4.9).
func ListMergeWaitQueuedTasks(ctx context.Context, q Querier) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = 'queued' AND step_id = 'merge-wait' ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing merge-wait tasks")
	}
	defer rows.Close()
	return scanTaskRows(rows)
}
