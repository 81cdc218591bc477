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

package cascade

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/reeflab/colonyd/internal/store"
)

// buildContextMap assembles stepId.summary -> text for every completed
// run in the mission, latest wins on duplicate keys, plus
// stepId.result -> text when a run's summary parses as JSON with a
// string-valued "result" field.
func buildContextMap(ctx context.Context, q store.Querier, missionID string) (map[string]string, error) {
	runs, err := store.CompletedRunsByMission(ctx, q, missionID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for _, r := range runs {
		task, err := store.GetTask(ctx, q, r.TaskID)
		if err != nil || task.StepID == "" {
			continue
		}

		summaryKey := task.StepID + ".summary"
		if _, exists := out[summaryKey]; !exists {
			out[summaryKey] = r.Summary
		}

		resultKey := task.StepID + ".result"
		if _, exists := out[resultKey]; !exists {
			if v, ok := jsonStringField(r.Summary, "result"); ok {
				out[resultKey] = v
			}
		}
	}
	return out, nil
}

func jsonStringField(raw, field string) (string, bool) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", false
	}
	v, ok := doc[field].(string)
	return v, ok
}

// extractCondition reads the _condition field from a task's expansion-
// time context JSON. Any parse failure or missing field degrades to
// "" (no condition), never an error — per spec, condition evaluation
// errors must never be fatal.
func extractCondition(rawContext string) string {
	if rawContext == "" {
		return ""
	}
	var meta struct {
		Condition string `json:"_condition"`
	}
	if err := json.Unmarshal([]byte(rawContext), &meta); err != nil {
		return ""
	}
	return meta.Condition
}

// buildAccumulatedContext assembles the Markdown blob a task's context
// is replaced with on blocked->queued: one "## <step_id>\n<summary>"
// section per direct dependency, in mission creation order, separated
// by blank lines.
func buildAccumulatedContext(ctx context.Context, q store.Querier, taskID string) (string, error) {
	deps, err := store.DirectDependencies(ctx, q, taskID)
	if err != nil {
		return "", err
	}

	sections := make([]string, 0, len(deps))
	for _, d := range deps {
		stepID := d.StepID
		if stepID == "" {
			stepID = "unknown"
		}
		summary := "(no summary)"
		if s, ok := latestCompletedRunSummary(ctx, q, d.ID); ok && s != "" {
			summary = s
		}
		sections = append(sections, "## "+stepID+"\n"+summary)
	}
	return strings.Join(sections, "\n\n"), nil
}

func latestCompletedRunSummary(ctx context.Context, q store.Querier, taskID string) (string, bool) {
	runs, err := store.ListRunsByTask(ctx, q, taskID)
	if err != nil {
		return "", false
	}
	var latest *store.Run
	for _, r := range runs {
		if r.Status != store.RunCompleted || r.CompletedAtMs == nil {
			continue
		}
		if latest == nil || *r.CompletedAtMs > *latest.CompletedAtMs {
			latest = r
		}
	}
	if latest == nil {
		return "", false
	}
	return latest.Summary, true
}
