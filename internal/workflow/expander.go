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

package workflow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/reeflab/colonyd/internal/store"
)

// TaskEventSink receives task-created notifications during expansion.
// Implemented by the event broadcaster; kept minimal here to avoid an
// import cycle between workflow and events.
type TaskEventSink interface {
	TaskCreated(t *store.Task)
}

// Expand materializes a manifest into task rows and dependency edges
// for one mission, inside the caller's transaction. A dependency on an
// unknown step id is silently dropped: no edge is inserted for it, but
// the step's task is still created and still starts blocked (the
// manifest is trusted at load time).
func Expand(ctx context.Context, q store.Querier, reg *Registry, m *Manifest, missionID, missionPrompt string, sink TaskEventSink) error {
	now := store.Now()
	stepTaskID := make(map[string]string, len(m.Steps))

	for _, step := range m.Steps {
		taskID := uuid.NewString()
		stepTaskID[step.ID] = taskID

		status := store.TaskQueued
		if len(step.DependsOn) > 0 {
			status = store.TaskBlocked
		}

		prompt := ""
		if step.PromptFile != "" {
			tmpl, err := reg.ReadPromptFile(step.PromptFile)
			if err == nil {
				prompt = renderPromptTemplate(tmpl, missionPrompt, missionID)
			}
		}

		taskContext := expansionContext(step)

		t := &store.Task{
			ID:          taskID,
			MissionID:   missionID,
			Title:       "[" + step.ID + "] " + step.Role,
			Status:      status,
			StepID:      step.ID,
			Role:        step.Role,
			Prompt:      prompt,
			Context:     taskContext,
			MaxRetries:  step.MaxRetries,
			CreatedAtMs: now,
			UpdatedAtMs: now,
		}
		if err := store.CreateTask(ctx, q, t); err != nil {
			return err
		}
		if sink != nil {
			sink.TaskCreated(t)
		}
	}

	for _, step := range m.Steps {
		taskID := stepTaskID[step.ID]
		for _, dep := range step.DependsOn {
			depTaskID, ok := stepTaskID[dep]
			if !ok {
				continue
			}
			if err := store.CreateTaskDep(ctx, q, taskID, depTaskID); err != nil {
				return err
			}
		}
	}

	return nil
}

func renderPromptTemplate(tmpl, missionPrompt, missionID string) string {
	r := strings.NewReplacer(
		"{{mission_prompt}}", missionPrompt,
		"{{context}}", "",
		"{{worktree_path}}", "burrows/mission-"+missionID,
	)
	return r.Replace(tmpl)
}

// expansionContext builds the expansion-time metadata JSON blob,
// storing only the fields actually present on the step.
func expansionContext(step Step) string {
	if step.Condition == "" && step.MaxRetries == 0 {
		return ""
	}
	fields := map[string]any{}
	if step.Condition != "" {
		fields["_condition"] = step.Condition
	}
	if step.MaxRetries != 0 {
		fields["_max_retries"] = step.MaxRetries
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(data)
}
