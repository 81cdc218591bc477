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

// Package scheduler implements the role-matching scheduler: it pairs
// queued tasks with idle crabs at the tail of every mutating
// transaction, respecting the per-mission single-running-task mutex.
package scheduler

import (
	"context"

	"github.com/reeflab/colonyd/internal/metrics"
	"github.com/reeflab/colonyd/internal/session"
	"github.com/reeflab/colonyd/internal/store"
)

// anyRole is the reserved role value that is both role-unconstrained
// (a task requiring it accepts any crab) and role-satisfying (a crab
// holding it can be matched against any task).
const anyRole = "any"

// EventSink receives state-change notifications during a scheduler tick.
type EventSink interface {
	TaskUpdated(t *store.Task)
	CrabUpdated(c *store.Crab)
}

// Assignment pairs a crab with the envelope to dispatch to it once the
// enclosing transaction has committed.
type Assignment struct {
	CrabID   string
	Envelope *session.Envelope
}

// Tick runs one scheduling pass: queued tasks in ascending creation
// order are matched against idle crabs until either list is exhausted.
// Matched tasks/crabs are updated in the store; the returned
// assignments must be dispatched only after the caller commits.
func Tick(ctx context.Context, q store.Querier, sink EventSink) ([]Assignment, error) {
	metrics.SchedulerTicks.Inc()

	queued, err := store.ListQueuedTasks(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(queued) == 0 {
		return nil, nil
	}

	idle, err := store.ListIdleCrabs(ctx, q)
	if err != nil {
		return nil, err
	}

	var assignments []Assignment
	for _, task := range queued {
		if len(idle) == 0 {
			break
		}
		if task.StepID == "merge-wait" {
			// Owned by the merge-wait poller, never the scheduler.
			continue
		}
		if task.StepID != "" {
			running, err := store.RunningTaskCountInMission(ctx, q, task.MissionID)
			if err != nil {
				return nil, err
			}
			if running > 0 {
				continue
			}
		}

		role := task.Role
		if role == "" {
			role = anyRole
		}

		idx := matchCrab(idle, role)
		if idx < 0 {
			continue
		}
		crab := idle[idx]
		idle = append(idle[:idx], idle[idx+1:]...)

		mission, err := store.GetMission(ctx, q, task.MissionID)
		if err != nil {
			return nil, err
		}

		now := store.Now()
		if err := store.AssignTask(ctx, q, task.ID, crab.ID, now); err != nil {
			return nil, err
		}
		if err := store.AssignCrab(ctx, q, crab.ID, task.ID, "", now); err != nil {
			return nil, err
		}

		task.Status = store.TaskAssigned
		task.AssignedCrab = crab.ID
		if sink != nil {
			sink.TaskUpdated(task)
		}
		crab.State = store.CrabBusy
		crab.CurrentTaskID = task.ID
		if sink != nil {
			sink.CrabUpdated(crab)
		}

		env, err := session.NewTaskAssigned(crab.ID, session.TaskAssignedPayload{
			TaskID:        task.ID,
			MissionID:     task.MissionID,
			Title:         task.Title,
			MissionPrompt: mission.Prompt,
			DesiredStatus: string(store.TaskRunning),
			StepID:        task.StepID,
			Role:          task.Role,
			Prompt:        task.Prompt,
			Context:       task.Context,
			WorktreePath:  mission.WorkDir,
		})
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, Assignment{CrabID: crab.ID, Envelope: env})
		metrics.SchedulerAssignments.Inc()
	}

	return assignments, nil
}

// matchCrab scans idle for an exact role match first, falling back to
// the first crab satisfying "any" on either side, per §4.5 step 3.
func matchCrab(idle []*store.Crab, role string) int {
	for i, c := range idle {
		if c.Role == role {
			return i
		}
	}
	if role == anyRole {
		return 0
	}
	for i, c := range idle {
		if c.Role == anyRole {
			return i
		}
	}
	return -1
}
