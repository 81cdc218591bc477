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

// Package cascade implements the dependency-cascade engine: the pass
// that runs whenever a task reaches a terminal status within the
// current transaction, unblocking dependents, evaluating conditions,
// propagating failure, driving the review/fix retry loop, and rolling
// up mission status.
package cascade

import (
	"context"
	"strconv"

	"github.com/reeflab/colonyd/internal/metrics"
	"github.com/reeflab/colonyd/internal/store"
	"github.com/reeflab/colonyd/internal/workflow"
)

// EventSink receives state-change notifications during a cascade pass.
type EventSink interface {
	TaskUpdated(t *store.Task)
	MissionUpdated(m *store.Mission)
}

// Activator triggers per-colony mission-queue activation; implemented
// by the mission queue, injected here to avoid an import cycle.
type Activator interface {
	Activate(ctx context.Context, q store.Querier, colonyID string) error
}

// Run advances the cascade for (missionID, completedTaskID). Must be
// called inside the same transaction that set completedTaskID's
// terminal status.
func Run(ctx context.Context, q store.Querier, missionID, completedTaskID string, sink EventSink, activator Activator) error {
	metrics.CascadeRuns.Inc()

	task, err := store.GetTask(ctx, q, completedTaskID)
	if err != nil {
		return err
	}
	if task.StepID == "" {
		// Ad-hoc tasks do not participate in cascade.
		return nil
	}

	if task.Status == store.TaskFailed {
		if err := cascadeFailure(ctx, q, completedTaskID, sink); err != nil {
			return err
		}
		return rollupMission(ctx, q, missionID, sink, activator)
	}

	contextMap, err := buildContextMap(ctx, q, missionID)
	if err != nil {
		return err
	}

	dependents, err := store.DirectDependents(ctx, q, completedTaskID)
	if err != nil {
		return err
	}

	for _, dep := range dependents {
		if dep.Status != store.TaskBlocked {
			continue
		}
		allTerminal, err := store.AllDependenciesTerminal(ctx, q, dep.ID)
		if err != nil {
			return err
		}
		if !allTerminal {
			continue
		}

		cond := extractCondition(dep.Context)
		gate := cond == "" || workflow.EvaluateCondition(cond, contextMap)

		if gate {
			accumulated, err := buildAccumulatedContext(ctx, q, dep.ID)
			if err != nil {
				return err
			}
			now := store.Now()
			if err := store.UpdateTaskStatusAndContext(ctx, q, dep.ID, store.TaskQueued, accumulated, now); err != nil {
				return err
			}
			dep.Status = store.TaskQueued
			dep.Context = accumulated
			if sink != nil {
				sink.TaskUpdated(dep)
			}
		} else {
			now := store.Now()
			if err := store.UpdateTaskStatus(ctx, q, dep.ID, store.TaskSkipped, now); err != nil {
				return err
			}
			dep.Status = store.TaskSkipped
			if sink != nil {
				sink.TaskUpdated(dep)
			}
			if err := Run(ctx, q, missionID, dep.ID, sink, activator); err != nil {
				return err
			}
		}
	}

	if task.StepID == "fix" && task.Status == store.TaskCompleted {
		overflowed, err := requeueReviewAfterFix(ctx, q, missionID, sink)
		if err != nil {
			return err
		}
		if overflowed {
			return finishMission(ctx, q, missionID, store.MissionFailed, sink, activator)
		}
	}

	if task.StepID == "pr" {
		if v, ok := contextMap["pr.result"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				if err := store.SetMissionPRNumber(ctx, q, missionID, n); err != nil {
					return err
				}
			}
		}
	}

	return rollupMission(ctx, q, missionID, sink, activator)
}

// requeueReviewAfterFix implements the bounded review/fix retry loop.
// It reports overflowed=true when the review step's retry budget has
// been exhausted, in which case the caller fails the mission instead
// of re-queueing review.
func requeueReviewAfterFix(ctx context.Context, q store.Querier, missionID string, sink EventSink) (bool, error) {
	review, err := store.TaskByStepID(ctx, q, missionID, "review")
	if err != nil {
		return false, err
	}
	if review == nil {
		return false, nil
	}

	if review.MaxRetries > 0 {
		count, err := store.CompletedRunCountForTask(ctx, q, review.ID)
		if err != nil {
			return false, err
		}
		if count >= review.MaxRetries {
			return true, nil
		}
	}

	now := store.Now()
	if err := store.UpdateTaskStatus(ctx, q, review.ID, store.TaskQueued, now); err != nil {
		return false, err
	}
	review.Status = store.TaskQueued
	if sink != nil {
		sink.TaskUpdated(review)
	}
	return false, nil
}

func cascadeFailure(ctx context.Context, q store.Querier, taskID string, sink EventSink) error {
	dependents, err := store.DirectDependents(ctx, q, taskID)
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		if dep.Status.IsTerminal() {
			continue
		}
		now := store.Now()
		if err := store.UpdateTaskStatus(ctx, q, dep.ID, store.TaskFailed, now); err != nil {
			return err
		}
		dep.Status = store.TaskFailed
		if sink != nil {
			sink.TaskUpdated(dep)
		}
		if err := cascadeFailure(ctx, q, dep.ID, sink); err != nil {
			return err
		}
	}
	return nil
}

func rollupMission(ctx context.Context, q store.Querier, missionID string, sink EventSink, activator Activator) error {
	nonTerminal, err := store.NonTerminalTaskCount(ctx, q, missionID)
	if err != nil {
		return err
	}
	if nonTerminal > 0 {
		return nil
	}
	failed, err := store.FailedTaskCount(ctx, q, missionID)
	if err != nil {
		return err
	}
	status := store.MissionCompleted
	if failed > 0 {
		status = store.MissionFailed
	}
	return finishMission(ctx, q, missionID, status, sink, activator)
}

func finishMission(ctx context.Context, q store.Querier, missionID string, status store.MissionStatus, sink EventSink, activator Activator) error {
	mission, err := store.GetMission(ctx, q, missionID)
	if err != nil {
		return err
	}
	if mission.Status.IsTerminal() {
		// Absorbing: a mission already rolled up never transitions again.
		return nil
	}
	if err := store.UpdateMissionStatus(ctx, q, missionID, status); err != nil {
		return err
	}
	mission.Status = status
	metrics.CascadeMissionsCompleted.WithLabelValues(string(status)).Inc()
	if sink != nil {
		sink.MissionUpdated(mission)
	}
	if activator != nil {
		return activator.Activate(ctx, q, mission.ColonyID)
	}
	return nil
}
