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

package scheduler_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeflab/colonyd/internal/scheduler"
	"github.com/reeflab/colonyd/internal/store"
)

type recordingSink struct {
	tasks []*store.Task
	crabs []*store.Crab
}

func (r *recordingSink) TaskUpdated(t *store.Task) { r.tasks = append(r.tasks, t) }
func (r *recordingSink) CrabUpdated(c *store.Crab) { r.crabs = append(r.crabs, c) }

func newSchedulerStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "colonyd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestTick_MatchesExactRoleBeforeAny(t *testing.T) {
	st := newSchedulerStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, Prompt: "fix it", CreatedAtMs: store.Now()}))
	require.NoError(t, store.UpsertCrab(ctx, tx.Raw(), &store.Crab{ID: "any-1", ColonyID: "col-1", Role: "any", State: store.CrabIdle, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, store.UpsertCrab(ctx, tx.Raw(), &store.Crab{ID: "coder-1", ColonyID: "col-1", Role: "coder", State: store.CrabIdle, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), &store.Task{ID: "t-1", MissionID: "m-1", Role: "coder", StepID: "implement", Status: store.TaskQueued, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	sink := &recordingSink{}
	assignments, err := scheduler.Tick(ctx, tx.Raw(), sink)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Len(t, assignments, 1)
	assert.Equal(t, "coder-1", assignments[0].CrabID, "an exact role match must win over an 'any' crab")
	assert.Equal(t, "t-1", assignments[0].Envelope.TaskID)
}

func TestTick_AnyTaskMatchesFirstIdleCrab(t *testing.T) {
	st := newSchedulerStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))
	require.NoError(t, store.UpsertCrab(ctx, tx.Raw(), &store.Crab{ID: "reviewer-1", ColonyID: "col-1", Role: "reviewer", State: store.CrabIdle, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), &store.Task{ID: "t-1", MissionID: "m-1", Role: "any", StepID: "merge-wait-placeholder", Status: store.TaskQueued, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	assignments, err := scheduler.Tick(ctx, tx.Raw(), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Len(t, assignments, 1)
	assert.Equal(t, "reviewer-1", assignments[0].CrabID)
}

func TestTick_MergeWaitTasksAreNeverScheduled(t *testing.T) {
	st := newSchedulerStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))
	require.NoError(t, store.UpsertCrab(ctx, tx.Raw(), &store.Crab{ID: "any-1", ColonyID: "col-1", Role: "any", State: store.CrabIdle, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), &store.Task{ID: "t-wait", MissionID: "m-1", Role: "any", StepID: "merge-wait", Status: store.TaskQueued, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	assignments, err := scheduler.Tick(ctx, tx.Raw(), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Empty(t, assignments, "merge-wait tasks belong to the poller, not the scheduler")
}

func TestTick_PerMissionMutexBlocksSecondTask(t *testing.T) {
	st := newSchedulerStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))
	require.NoError(t, store.UpsertCrab(ctx, tx.Raw(), &store.Crab{ID: "any-1", ColonyID: "col-1", Role: "any", State: store.CrabIdle, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, store.UpsertCrab(ctx, tx.Raw(), &store.Crab{ID: "any-2", ColonyID: "col-1", Role: "any", State: store.CrabIdle, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), &store.Task{ID: "t-running", MissionID: "m-1", StepID: "implement", Status: store.TaskRunning, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), &store.Task{ID: "t-queued", MissionID: "m-1", StepID: "review", Status: store.TaskQueued, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	assignments, err := scheduler.Tick(ctx, tx.Raw(), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Empty(t, assignments, "a mission with a task already running must not start a second one")
}

func TestTick_AdHocTaskIgnoresMissionMutex(t *testing.T) {
	st := newSchedulerStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))
	require.NoError(t, store.UpsertCrab(ctx, tx.Raw(), &store.Crab{ID: "any-1", ColonyID: "col-1", Role: "any", State: store.CrabIdle, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), &store.Task{ID: "t-running", MissionID: "m-1", StepID: "implement", Status: store.TaskRunning, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, store.CreateAdHocTask(ctx, tx.Raw(), &store.Task{ID: "t-adhoc", MissionID: "m-1", CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	assignments, err := scheduler.Tick(ctx, tx.Raw(), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Len(t, assignments, 1, "ad-hoc tasks (no step id) are exempt from the per-mission mutex")
}

func TestTick_NoIdleCrabsYieldsNoAssignments(t *testing.T) {
	st := newSchedulerStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), &store.Task{ID: "t-1", MissionID: "m-1", StepID: "implement", Status: store.TaskQueued, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	assignments, err := scheduler.Tick(ctx, tx.Raw(), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Nil(t, assignments)
}
