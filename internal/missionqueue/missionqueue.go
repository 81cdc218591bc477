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

// Package missionqueue implements the per-colony sequential mission
// queue (§4.6): at most one queued mission may run at a time within a
// colony, while colonies proceed independently of one another.
package missionqueue

import (
	"context"

	"github.com/reeflab/colonyd/internal/store"
	"github.com/reeflab/colonyd/internal/workflow"
)

// EventSink receives state-change notifications during activation.
type EventSink interface {
	MissionUpdated(m *store.Mission)
	TaskCreated(t *store.Task)
}

// Queue activates the next pending queued mission in a colony once the
// previous one vacates the running slot. It is injected into the
// cascade engine as a cascade.Activator to avoid an import cycle.
type Queue struct {
	registry *workflow.Registry
	sink     EventSink
}

// New builds a Queue backed by reg for workflow expansion on activation.
func New(reg *workflow.Registry, sink EventSink) *Queue {
	return &Queue{registry: reg, sink: sink}
}

// Activate implements cascade.Activator. If a queued mission is
// already running in this colony, it is a no-op. Otherwise the pending
// queued mission with the smallest queue position is promoted to
// running, given its working directory, and (if it names a resolvable
// workflow) expanded.
func (q *Queue) Activate(ctx context.Context, tx store.Querier, colonyID string) error {
	running, err := store.RunningQueuedMission(ctx, tx, colonyID)
	if err != nil {
		return err
	}
	if running != nil {
		return nil
	}

	next, err := store.NextPendingQueuedMission(ctx, tx, colonyID)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	workDir := "burrows/mission-" + next.ID
	if err := store.ActivateMission(ctx, tx, next.ID, workDir); err != nil {
		return err
	}
	next.Status = store.MissionRunning
	next.WorkDir = workDir

	if next.Workflow != "" {
		if manifest, ok := q.registry.Get(next.Workflow); ok {
			if err := workflow.Expand(ctx, tx, q.registry, manifest, next.ID, next.Prompt, q.sink); err != nil {
				return err
			}
		}
	}

	if q.sink != nil {
		q.sink.MissionUpdated(next)
	}
	return nil
}
