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

package cascade_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeflab/colonyd/internal/cascade"
	"github.com/reeflab/colonyd/internal/store"
)

type recordingSink struct {
	tasks    []*store.Task
	missions []*store.Mission
}

func (r *recordingSink) TaskUpdated(t *store.Task)       { r.tasks = append(r.tasks, t) }
func (r *recordingSink) MissionUpdated(m *store.Mission) { r.missions = append(r.missions, m) }

type recordingActivator struct {
	activatedColonies []string
}

func (a *recordingActivator) Activate(ctx context.Context, q store.Querier, colonyID string) error {
	a.activatedColonies = append(a.activatedColonies, colonyID)
	return nil
}

func newCascadeStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "colonyd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func getTask(t *testing.T, st *store.Store, id string) *store.Task {
	t.Helper()
	var out *store.Task
	require.NoError(t, st.Read(context.Background(), func(tx *sql.Tx) error {
		var err error
		out, err = store.GetTask(context.Background(), tx, id)
		return err
	}))
	return out
}

func getMission(t *testing.T, st *store.Store, id string) *store.Mission {
	t.Helper()
	var out *store.Mission
	require.NoError(t, st.Read(context.Background(), func(tx *sql.Tx) error {
		var err error
		out, err = store.GetMission(context.Background(), tx, id)
		return err
	}))
	return out
}

// seedLinear builds implement -> review on mission "m-1" inside one
// committed transaction: implement starts running, review starts
// blocked behind it.
func seedLinear(t *testing.T, st *store.Store, reviewCondition string, reviewMaxRetries int) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))

	implement := &store.Task{ID: "t-implement", MissionID: "m-1", StepID: "implement", Status: store.TaskRunning, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), implement))

	reviewCtx := ""
	if reviewCondition != "" {
		reviewCtx = `{"_condition":"` + reviewCondition + `"}`
	}
	review := &store.Task{ID: "t-review", MissionID: "m-1", StepID: "review", Status: store.TaskBlocked, Context: reviewCtx, MaxRetries: reviewMaxRetries, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), review))
	require.NoError(t, store.CreateTaskDep(ctx, tx.Raw(), "t-review", "t-implement"))
	require.NoError(t, tx.Commit())
}

func TestRun_CompletingATaskUnblocksItsDependent(t *testing.T) {
	st := newCascadeStore(t)
	seedLinear(t, st, "", 0)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.UpdateTaskStatus(ctx, tx.Raw(), "t-implement", store.TaskCompleted, store.Now()))

	sink := &recordingSink{}
	activator := &recordingActivator{}
	require.NoError(t, cascade.Run(ctx, tx.Raw(), "m-1", "t-implement", sink, activator))
	require.NoError(t, tx.Commit())

	review := getTask(t, st, "t-review")
	assert.Equal(t, store.TaskQueued, review.Status, "an unconditional dependent is queued once its dependency completes")

	mission := getMission(t, st, "m-1")
	assert.Equal(t, store.MissionRunning, mission.Status, "mission stays running while a task remains non-terminal")
}

func TestRun_AdHocTaskNeverCascades(t *testing.T) {
	st := newCascadeStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateAdHocTask(ctx, tx.Raw(), &store.Task{ID: "t-adhoc", MissionID: "m-1", CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}))
	require.NoError(t, store.UpdateTaskStatus(ctx, tx.Raw(), "t-adhoc", store.TaskCompleted, store.Now()))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	sink := &recordingSink{}
	require.NoError(t, cascade.Run(ctx, tx.Raw(), "m-1", "t-adhoc", sink, nil))
	require.NoError(t, tx.Commit())

	assert.Empty(t, sink.tasks)
	assert.Empty(t, sink.missions, "an ad-hoc task's completion must not roll up the mission")
}

func TestRun_ConditionGateFalseSkipsAndCascadesFurther(t *testing.T) {
	st := newCascadeStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))

	review := &store.Task{ID: "t-review", MissionID: "m-1", StepID: "review", Status: store.TaskRunning, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), review))

	fix := &store.Task{ID: "t-fix", MissionID: "m-1", StepID: "fix", Status: store.TaskBlocked, Context: `{"_condition":"review.result == 'FAIL'"}`, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), fix))
	require.NoError(t, store.CreateTaskDep(ctx, tx.Raw(), "t-fix", "t-review"))

	pr := &store.Task{ID: "t-pr", MissionID: "m-1", StepID: "pr", Status: store.TaskBlocked, Context: `{"_condition":"review.result == 'PASS'"}`, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), pr))
	require.NoError(t, store.CreateTaskDep(ctx, tx.Raw(), "t-pr", "t-review"))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateRun(ctx, tx.Raw(), &store.Run{
		ID: "r-review", MissionID: "m-1", TaskID: "t-review", Status: store.RunCompleted,
		Summary: `{"result":"PASS"}`, BurrowMode: store.BurrowWorktree,
		StartedAtMs: store.Now(), UpdatedAtMs: store.Now(), CompletedAtMs: ptrInt64(store.Now()),
	}))
	require.NoError(t, store.UpdateTaskStatus(ctx, tx.Raw(), "t-review", store.TaskCompleted, store.Now()))

	require.NoError(t, cascade.Run(ctx, tx.Raw(), "m-1", "t-review", &recordingSink{}, nil))
	require.NoError(t, tx.Commit())

	fixAfter := getTask(t, st, "t-fix")
	assert.Equal(t, store.TaskSkipped, fixAfter.Status, "fix must be skipped when review passed")

	prAfter := getTask(t, st, "t-pr")
	assert.Equal(t, store.TaskQueued, prAfter.Status, "pr must be queued when review passed")
}

func ptrInt64(v int64) *int64 { return &v }

func TestRun_ReviewFixRetryLoopRequeuesReview(t *testing.T) {
	st := newCascadeStore(t)
	seedLinear(t, st, "review.result == 'FAIL'", 3) // review's own context unused here; fix depends on review
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	fix := &store.Task{ID: "t-fix", MissionID: "m-1", StepID: "fix", Status: store.TaskBlocked, Context: `{"_condition":"review.result == 'FAIL'"}`, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), fix))
	require.NoError(t, store.CreateTaskDep(ctx, tx.Raw(), "t-fix", "t-review"))
	require.NoError(t, store.UpdateTaskStatus(ctx, tx.Raw(), "t-review", store.TaskQueued, store.Now()))
	require.NoError(t, tx.Commit())

	// review runs and fails
	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateRun(ctx, tx.Raw(), &store.Run{
		ID: "r-review-1", MissionID: "m-1", TaskID: "t-review", Status: store.RunCompleted,
		Summary: `{"result":"FAIL"}`, BurrowMode: store.BurrowWorktree,
		StartedAtMs: store.Now(), UpdatedAtMs: store.Now(), CompletedAtMs: ptrInt64(store.Now()),
	}))
	require.NoError(t, store.UpdateTaskStatus(ctx, tx.Raw(), "t-review", store.TaskCompleted, store.Now()))
	require.NoError(t, cascade.Run(ctx, tx.Raw(), "m-1", "t-review", &recordingSink{}, nil))
	require.NoError(t, tx.Commit())

	fixAfter := getTask(t, st, "t-fix")
	assert.Equal(t, store.TaskQueued, fixAfter.Status, "fix is queued when review failed")

	// fix completes, which must requeue review for another pass
	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.UpdateTaskStatus(ctx, tx.Raw(), "t-fix", store.TaskCompleted, store.Now()))
	require.NoError(t, cascade.Run(ctx, tx.Raw(), "m-1", "t-fix", &recordingSink{}, nil))
	require.NoError(t, tx.Commit())

	reviewAfter := getTask(t, st, "t-review")
	assert.Equal(t, store.TaskQueued, reviewAfter.Status, "review is requeued after a fix within budget")

	mission := getMission(t, st, "m-1")
	assert.Equal(t, store.MissionRunning, mission.Status)
}

func TestRun_ReviewRetryBudgetOverflowFailsMission(t *testing.T) {
	st := newCascadeStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))

	review := &store.Task{ID: "t-review", MissionID: "m-1", StepID: "review", Status: store.TaskCompleted, MaxRetries: 1, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), review))
	fix := &store.Task{ID: "t-fix", MissionID: "m-1", StepID: "fix", Status: store.TaskCompleted, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), fix))

	// the review has already completed once (budget of 1 exhausted)
	require.NoError(t, store.CreateRun(ctx, tx.Raw(), &store.Run{
		ID: "r-review-1", MissionID: "m-1", TaskID: "t-review", Status: store.RunCompleted,
		Summary: `{"result":"FAIL"}`, BurrowMode: store.BurrowWorktree,
		StartedAtMs: store.Now(), UpdatedAtMs: store.Now(), CompletedAtMs: ptrInt64(store.Now()),
	}))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	activator := &recordingActivator{}
	require.NoError(t, cascade.Run(ctx, tx.Raw(), "m-1", "t-fix", &recordingSink{}, activator))
	require.NoError(t, tx.Commit())

	mission := getMission(t, st, "m-1")
	assert.Equal(t, store.MissionFailed, mission.Status, "exhausting the review retry budget fails the mission")
	assert.Equal(t, []string{"col-1"}, activator.activatedColonies, "a finished mission must trigger the colony's next-mission activation")
}

func TestRun_FailurePropagatesToAllDependents(t *testing.T) {
	st := newCascadeStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))

	implement := &store.Task{ID: "t-implement", MissionID: "m-1", StepID: "implement", Status: store.TaskFailed, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), implement))
	review := &store.Task{ID: "t-review", MissionID: "m-1", StepID: "review", Status: store.TaskBlocked, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), review))
	require.NoError(t, store.CreateTaskDep(ctx, tx.Raw(), "t-review", "t-implement"))
	pr := &store.Task{ID: "t-pr", MissionID: "m-1", StepID: "pr", Status: store.TaskBlocked, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), pr))
	require.NoError(t, store.CreateTaskDep(ctx, tx.Raw(), "t-pr", "t-review"))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	activator := &recordingActivator{}
	require.NoError(t, cascade.Run(ctx, tx.Raw(), "m-1", "t-implement", &recordingSink{}, activator))
	require.NoError(t, tx.Commit())

	assert.Equal(t, store.TaskFailed, getTask(t, st, "t-review").Status, "failure cascades transitively")
	assert.Equal(t, store.TaskFailed, getTask(t, st, "t-pr").Status)

	mission := getMission(t, st, "m-1")
	assert.Equal(t, store.MissionFailed, mission.Status)
	assert.Equal(t, []string{"col-1"}, activator.activatedColonies)
}

func TestRun_PrStepCapturesPRNumber(t *testing.T) {
	st := newCascadeStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionRunning, CreatedAtMs: store.Now()}))

	pr := &store.Task{ID: "t-pr", MissionID: "m-1", StepID: "pr", Status: store.TaskRunning, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), pr))
	require.NoError(t, store.CreateRun(ctx, tx.Raw(), &store.Run{
		ID: "r-pr", MissionID: "m-1", TaskID: "t-pr", Status: store.RunCompleted,
		Summary: `{"result":"42"}`, BurrowMode: store.BurrowWorktree,
		StartedAtMs: store.Now(), UpdatedAtMs: store.Now(), CompletedAtMs: ptrInt64(store.Now()),
	}))
	require.NoError(t, store.UpdateTaskStatus(ctx, tx.Raw(), "t-pr", store.TaskCompleted, store.Now()))
	require.NoError(t, cascade.Run(ctx, tx.Raw(), "m-1", "t-pr", &recordingSink{}, nil))
	require.NoError(t, tx.Commit())

	mission := getMission(t, st, "m-1")
	require.NotNil(t, mission.PRNumber)
	assert.Equal(t, 42, *mission.PRNumber)
}

func TestFinishMission_IsAbsorbingOnceTerminal(t *testing.T) {
	st := newCascadeStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: "col-1", Name: "reef", CreatedAtMs: store.Now()}))
	require.NoError(t, store.CreateMission(ctx, tx.Raw(), &store.Mission{ID: "m-1", ColonyID: "col-1", Status: store.MissionCompleted, CreatedAtMs: store.Now()}))
	onlyTask := &store.Task{ID: "t-1", MissionID: "m-1", StepID: "implement", Status: store.TaskFailed, CreatedAtMs: store.Now(), UpdatedAtMs: store.Now()}
	require.NoError(t, store.CreateTask(ctx, tx.Raw(), onlyTask))
	require.NoError(t, tx.Commit())

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	activator := &recordingActivator{}
	require.NoError(t, cascade.Run(ctx, tx.Raw(), "m-1", "t-1", &recordingSink{}, activator))
	require.NoError(t, tx.Commit())

	mission := getMission(t, st, "m-1")
	assert.Equal(t, store.MissionCompleted, mission.Status, "an already-terminal mission never transitions again")
}
