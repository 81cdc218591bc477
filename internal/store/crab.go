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

	colonyerrors "github.com/reeflab/colonyd/pkg/errors"
)

// UpsertCrab registers a new crab or updates an existing one by id,
// preserving colony binding (a crab never changes colonies). If role
// is not "any" and another crab in the colony already holds it, a
// ConflictError is returned (spec §7: "role-already-taken").
func UpsertCrab(ctx context.Context, q Querier, c *Crab) error {
	existing, err := GetCrab(ctx, q, c.ID)
	if err == nil {
		c.ColonyID = existing.ColonyID
		c.CreatedAtMs = existing.CreatedAtMs
	} else {
		c.CreatedAtMs = c.UpdatedAtMs
	}

	if c.Role != "any" {
		row := q.QueryRowContext(ctx, `
			SELECT id FROM crabs WHERE colony_id = ? AND role = ? AND role != 'any' AND id != ?`,
			c.ColonyID, c.Role, c.ID)
		var other string
		if scanErr := row.Scan(&other); scanErr == nil {
			return &colonyerrors.ConflictError{Resource: "role", Reason: "role " + c.Role + " already held by " + other + " in this colony"}
		}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO crabs (id, colony_id, role, state, current_task_id, current_run_id, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			state = excluded.state,
			current_task_id = excluded.current_task_id,
			current_run_id = excluded.current_run_id,
			updated_at_ms = excluded.updated_at_ms`,
		c.ID, c.ColonyID, c.Role, string(c.State), c.CurrentTaskID, c.CurrentRunID, c.CreatedAtMs, c.UpdatedAtMs)
	if err != nil {
		return colonyerrors.Wrap(err, "upserting crab")
	}
	return nil
}

// GetCrab fetches a crab by id.
func GetCrab(ctx context.Context, q Querier, id string) (*Crab, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, colony_id, role, state, current_task_id, current_run_id, created_at_ms, updated_at_ms
		FROM crabs WHERE id = ?`, id)
	var c Crab
	var state string
	if err := row.Scan(&c.ID, &c.ColonyID, &c.Role, &state, &c.CurrentTaskID, &c.CurrentRunID, &c.CreatedAtMs, &c.UpdatedAtMs); err != nil {
		return nil, &colonyerrors.NotFoundError{Resource: "crab", ID: id}
	}
	c.State = normalizeCrabState(state)
	return &c, nil
}

func normalizeCrabState(s string) CrabState {
	switch CrabState(s) {
	case CrabBusy, CrabOffline:
		return CrabState(s)
	default:
		return CrabIdle
	}
}

// ListCrabs returns every crab, oldest first.
func ListCrabs(ctx context.Context, q Querier) ([]*Crab, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, colony_id, role, state, current_task_id, current_run_id, created_at_ms, updated_at_ms
		FROM crabs ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing crabs")
	}
	defer rows.Close()

	var out []*Crab
	for rows.Next() {
		var c Crab
		var state string
		if err := rows.Scan(&c.ID, &c.ColonyID, &c.Role, &state, &c.CurrentTaskID, &c.CurrentRunID, &c.CreatedAtMs, &c.UpdatedAtMs); err != nil {
			return nil, colonyerrors.Wrap(err, "scanning crab")
		}
		c.State = normalizeCrabState(state)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListIdleCrabs returns crabs with state=idle, oldest registration first.
func ListIdleCrabs(ctx context.Context, q Querier) ([]*Crab, error) {
	all, err := ListCrabs(ctx, q)
	if err != nil {
		return nil, err
	}
	var idle []*Crab
	for _, c := range all {
		if c.State == CrabIdle {
			idle = append(idle, c)
		}
	}
	return idle, nil
}

// SetCrabOffline marks a crab offline and clears its current task/run,
// per §4.7 step 3 (session loop exit).
func SetCrabOffline(ctx context.Context, q Querier, id string, updatedAtMs int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE crabs SET state = 'offline', current_task_id = '', current_run_id = '', updated_at_ms = ?
		WHERE id = ?`, updatedAtMs, id)
	if err != nil {
		return colonyerrors.Wrap(err, "offlining crab")
	}
	return nil
}

// TouchCrab updates only the updated_at timestamp (heartbeat).
func TouchCrab(ctx context.Context, q Querier, id string, updatedAtMs int64) error {
	res, err := q.ExecContext(ctx, `UPDATE crabs SET updated_at_ms = ? WHERE id = ?`, updatedAtMs, id)
	if err != nil {
		return colonyerrors.Wrap(err, "touching crab")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &colonyerrors.NotFoundError{Resource: "crab", ID: id}
	}
	return nil
}

// AssignCrab sets a crab to busy with the given current task/run.
func AssignCrab(ctx context.Context, q Querier, crabID, taskID, runID string, updatedAtMs int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE crabs SET state = 'busy', current_task_id = ?, current_run_id = ?, updated_at_ms = ?
		WHERE id = ?`, taskID, runID, updatedAtMs, crabID)
	if err != nil {
		return colonyerrors.Wrap(err, "assigning crab")
	}
	return nil
}

// FreeCrab returns a crab to idle and clears current task/run.
func FreeCrab(ctx context.Context, q Querier, crabID string, updatedAtMs int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE crabs SET state = 'idle', current_task_id = '', current_run_id = '', updated_at_ms = ?
		WHERE id = ?`, updatedAtMs, crabID)
	if err != nil {
		return colonyerrors.Wrap(err, "freeing crab")
	}
	return nil
}
