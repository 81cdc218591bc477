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

// CreateMission inserts a new mission row.
func CreateMission(ctx context.Context, q Querier, m *Mission) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO missions (id, colony_id, prompt, workflow, status, work_dir, queue_position, issue_number, pr_number, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ColonyID, m.Prompt, m.Workflow, string(m.Status), m.WorkDir,
		intPtrToNull(m.QueuePosition), intPtrToNull(m.IssueNumber), intPtrToNull(m.PRNumber), m.CreatedAtMs)
	if err != nil {
		return colonyerrors.Wrap(err, "creating mission")
	}
	return nil
}

// GetMission fetches a mission by id.
func GetMission(ctx context.Context, q Querier, id string) (*Mission, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, colony_id, prompt, workflow, status, work_dir, queue_position, issue_number, pr_number, created_at_ms
		FROM missions WHERE id = ?`, id)
	return scanMission(row)
}

func scanMission(row *sql.Row) (*Mission, error) {
	var m Mission
	var status string
	var qp, issue, pr sql.NullInt64
	if err := row.Scan(&m.ID, &m.ColonyID, &m.Prompt, &m.Workflow, &status, &m.WorkDir, &qp, &issue, &pr, &m.CreatedAtMs); err != nil {
		return nil, &colonyerrors.NotFoundError{Resource: "mission", ID: ""}
	}
	m.Status = normalizeMissionStatus(status)
	m.QueuePosition = nullToIntPtr(qp)
	m.IssueNumber = nullToIntPtr(issue)
	m.PRNumber = nullToIntPtr(pr)
	return &m, nil
}

func normalizeMissionStatus(s string) MissionStatus {
	switch MissionStatus(s) {
	case MissionRunning, MissionCompleted, MissionFailed:
		return MissionStatus(s)
	default:
		return MissionPending
	}
}

// ListMissions returns every mission, oldest first.
func ListMissions(ctx context.Context, q Querier) ([]*Mission, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, colony_id, prompt, workflow, status, work_dir, queue_position, issue_number, pr_number, created_at_ms
		FROM missions ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing missions")
	}
	defer rows.Close()

	var out []*Mission
	for rows.Next() {
		var m Mission
		var status string
		var qp, issue, pr sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ColonyID, &m.Prompt, &m.Workflow, &status, &m.WorkDir, &qp, &issue, &pr, &m.CreatedAtMs); err != nil {
			return nil, colonyerrors.Wrap(err, "scanning mission")
		}
		m.Status = normalizeMissionStatus(status)
		m.QueuePosition = nullToIntPtr(qp)
		m.IssueNumber = nullToIntPtr(issue)
		m.PRNumber = nullToIntPtr(pr)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ListMissionsByColony returns a colony's missions, oldest first.
func ListMissionsByColony(ctx context.Context, q Querier, colonyID string) ([]*Mission, error) {
	all, err := ListMissions(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []*Mission
	for _, m := range all {
		if m.ColonyID == colonyID {
			out = append(out, m)
		}
	}
	return out, nil
}

// UpdateMissionStatus transitions a mission's status.
func UpdateMissionStatus(ctx context.Context, q Querier, id string, status MissionStatus) error {
	_, err := q.ExecContext(ctx, `UPDATE missions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return colonyerrors.Wrap(err, "updating mission status")
	}
	return nil
}

// ActivateMission marks a mission running and sets its working directory.
func ActivateMission(ctx context.Context, q Querier, id, workDir string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE missions SET status = 'running', work_dir = ? WHERE id = ?`, workDir, id)
	if err != nil {
		return colonyerrors.Wrap(err, "activating mission")
	}
	return nil
}

// SetMissionPRNumber stores the mission's external PR number.
func SetMissionPRNumber(ctx context.Context, q Querier, id string, pr int) error {
	_, err := q.ExecContext(ctx, `UPDATE missions SET pr_number = ? WHERE id = ?`, pr, id)
	if err != nil {
		return colonyerrors.Wrap(err, "setting mission PR number")
	}
	return nil
}

// DeleteMission removes a mission row (used only when cancelling a
// still-pending queued mission, per DELETE .../queue/{mission_id}).
func DeleteMission(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM missions WHERE id = ?`, id)
	if err != nil {
		return colonyerrors.Wrap(err, "deleting mission")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &colonyerrors.NotFoundError{Resource: "mission", ID: id}
	}
	return nil
}

// NextQueuePosition returns the next free queue position for a colony
// (max existing + 1, or 1 if none).
func NextQueuePosition(ctx context.Context, q Querier, colonyID string) (int, error) {
	row := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(queue_position), 0) FROM missions WHERE colony_id = ? AND queue_position IS NOT NULL`, colonyID)
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, colonyerrors.Wrap(err, "computing next queue position")
	}
	return max + 1, nil
}

// RunningQueuedMission returns the running mission in a colony's
// sequential queue, if any.
func RunningQueuedMission(ctx context.Context, q Querier, colonyID string) (*Mission, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, colony_id, prompt, workflow, status, work_dir, queue_position, issue_number, pr_number, created_at_ms
		FROM missions WHERE colony_id = ? AND queue_position IS NOT NULL AND status = 'running'
		LIMIT 1`, colonyID)
	m, err := scanMission(row)
	if err != nil {
		return nil, nil
	}
	return m, nil
}

// NextPendingQueuedMission returns the pending queued mission with the
// smallest queue position in a colony, if any.
func NextPendingQueuedMission(ctx context.Context, q Querier, colonyID string) (*Mission, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, colony_id, prompt, workflow, status, work_dir, queue_position, issue_number, pr_number, created_at_ms
		FROM missions WHERE colony_id = ? AND queue_position IS NOT NULL AND status = 'pending'
		ORDER BY queue_position ASC LIMIT 1`, colonyID)
	m, err := scanMission(row)
	if err != nil {
		return nil, nil
	}
	return m, nil
}

// AlreadyQueuedIssue reports whether an issue number is already queued
// (any non-terminal mission) in a colony.
func AlreadyQueuedIssue(ctx context.Context, q Querier, colonyID string, issueNumber int) (bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM missions
		WHERE colony_id = ? AND issue_number = ? AND status NOT IN ('completed', 'failed')`,
		colonyID, issueNumber)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, colonyerrors.Wrap(err, "checking already-queued issue")
	}
	return n > 0, nil
}

func intPtrToNull(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullToIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
