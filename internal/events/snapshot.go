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

package events

import (
	"context"

	"github.com/reeflab/colonyd/internal/store"
)

// BuildSnapshot assembles the full status bundle served by GET
// /v1/status and the initial/resync WS console frame.
func BuildSnapshot(ctx context.Context, q store.Querier) (*Snapshot, error) {
	colonies, err := store.ListColonies(ctx, q)
	if err != nil {
		return nil, err
	}
	crabs, err := store.ListCrabs(ctx, q)
	if err != nil {
		return nil, err
	}
	missions, err := store.ListMissions(ctx, q)
	if err != nil {
		return nil, err
	}
	tasks, err := store.ListTasks(ctx, q)
	if err != nil {
		return nil, err
	}
	runs, err := store.ListRuns(ctx, q)
	if err != nil {
		return nil, err
	}

	summary := Summary{}
	for _, c := range crabs {
		summary.TotalCrabs++
		if c.State == store.CrabBusy {
			summary.BusyCrabs++
		}
	}
	for _, t := range tasks {
		if t.Status == store.TaskRunning {
			summary.RunningTasks++
		}
	}
	var e2eSum int64
	var e2eCount int64
	for _, r := range runs {
		switch r.Status {
		case store.RunRunning:
			summary.RunningRuns++
		case store.RunCompleted:
			summary.CompletedRuns++
		case store.RunFailed:
			summary.FailedRuns++
		}
		summary.TotalTokens += r.TotalTokens
		if r.EndToEndMs != nil {
			e2eSum += *r.EndToEndMs
			e2eCount++
		}
	}
	if e2eCount > 0 {
		summary.AvgEndToEndMs = float64(e2eSum) / float64(e2eCount)
	}

	return &Snapshot{
		GeneratedAtMs: store.Now(),
		Summary:       summary,
		Colonies:      colonies,
		Crabs:         crabs,
		Missions:      missions,
		Tasks:         tasks,
		Runs:          runs,
	}, nil
}
