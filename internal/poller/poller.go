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

// Package poller implements the merge-wait background poller (§4.9):
// a fixed-interval scan that completes or fails merge-wait tasks by
// querying the external code-forge for pull request status.
package poller

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reeflab/colonyd/internal/cascade"
	"github.com/reeflab/colonyd/internal/forge"
	"github.com/reeflab/colonyd/internal/metrics"
	"github.com/reeflab/colonyd/internal/scheduler"
	"github.com/reeflab/colonyd/internal/session"
	"github.com/reeflab/colonyd/internal/store"
)

// Sink receives state-change notifications raised during a poll cycle.
type Sink interface {
	cascade.EventSink
	scheduler.EventSink
	RunCreated(r *store.Run)
}

// Dispatcher delivers assignment envelopes produced by a scheduler
// tick; satisfied by *session.Registry.
type Dispatcher interface {
	Dispatch(crabID string, env *session.Envelope) bool
}

// Poller periodically scans queued merge-wait tasks and advances them
// based on the forge's reported PR status.
type Poller struct {
	store      *store.Store
	forge      forge.Client
	activator  cascade.Activator
	sink       Sink
	dispatcher Dispatcher
	interval   time.Duration
	logger     *slog.Logger
}

// New builds a Poller. interval defaults to 60s if zero.
func New(st *store.Store, fc forge.Client, activator cascade.Activator, sink Sink, dispatcher Dispatcher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{store: st, forge: fc, activator: activator, sink: sink, dispatcher: dispatcher, interval: interval, logger: logger}
}

// Poll runs one scan-and-apply cycle immediately, outside the regular
// interval. Exported for tests and any future manual-trigger surface.
func (p *Poller) Poll(ctx context.Context) {
	p.tick(ctx)
}

// Run blocks, polling at p.interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// candidate is a merge-wait task paired with the info needed to poll
// it, gathered under a read-only pass before any network I/O.
type candidate struct {
	task     *store.Task
	prNumber int
	repo     string
}

// tick runs one poll cycle: a read-only scan, then one external query
// and one short transaction per eligible task.
func (p *Poller) tick(ctx context.Context) {
	metrics.PollerTicks.Inc()

	candidates, err := p.gather(ctx)
	if err != nil {
		p.logger.Warn("merge-wait poller: scan failed", "error", err)
		return
	}

	for _, c := range candidates {
		p.pollOne(ctx, c)
	}
}

// gather lists queued merge-wait tasks and resolves each one's mission
// PR number and colony repo. Tasks missing either are dropped; §4.9
// requires both present before a poll attempt.
func (p *Poller) gather(ctx context.Context) ([]candidate, error) {
	var out []candidate
	err := p.store.Read(ctx, func(tx *sql.Tx) error {
		tasks, err := store.ListMergeWaitQueuedTasks(ctx, tx)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			mission, err := store.GetMission(ctx, tx, t.MissionID)
			if err != nil {
				continue
			}
			if mission.PRNumber == nil {
				continue
			}
			colony, err := store.GetColony(ctx, tx, mission.ColonyID)
			if err != nil || colony.Repo == "" {
				continue
			}
			out = append(out, candidate{task: t, prNumber: *mission.PRNumber, repo: colony.Repo})
		}
		return nil
	})
	return out, err
}

// pollOne queries the forge for one candidate and, if the PR has
// resolved, applies the outcome inside one transaction.
func (p *Poller) pollOne(ctx context.Context, c candidate) {
	status, err := p.forge.GetPRStatus(ctx, c.repo, c.prNumber)
	if err != nil {
		p.logger.Warn("merge-wait poller: forge query failed", "task_id", c.task.ID, "repo", c.repo, "pr", c.prNumber, "error", err)
		return
	}

	merged := status.State == forge.PRStateMerged || status.MergedAt != nil
	closed := !merged && status.State == forge.PRStateClosed
	if !merged && !closed {
		metrics.PollerOutcomes.WithLabelValues("pending").Inc()
		return
	}
	if merged {
		metrics.PollerOutcomes.WithLabelValues("merged").Inc()
	} else {
		metrics.PollerOutcomes.WithLabelValues("closed").Inc()
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		p.logger.Warn("merge-wait poller: begin failed", "error", err)
		return
	}

	assignments, err := p.apply(ctx, tx.Raw(), c, merged)
	if err != nil {
		tx.Rollback()
		p.logger.Warn("merge-wait poller: apply failed", "task_id", c.task.ID, "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		p.logger.Warn("merge-wait poller: commit failed", "error", err)
		return
	}

	for _, a := range assignments {
		if p.dispatcher != nil {
			p.dispatcher.Dispatch(a.CrabID, a.Envelope)
		}
	}
}

func (p *Poller) apply(ctx context.Context, tx *sql.Tx, c candidate, merged bool) ([]scheduler.Assignment, error) {
	now := store.Now()

	if merged {
		run := &store.Run{
			ID:            uuid.NewString(),
			MissionID:     c.task.MissionID,
			TaskID:        c.task.ID,
			CrabID:        "system",
			Status:        store.RunCompleted,
			BurrowMode:    store.BurrowWorktree,
			Summary:       summaryForMerge(c.prNumber),
			StartedAtMs:   now,
			UpdatedAtMs:   now,
			CompletedAtMs: &now,
		}
		if err := store.CreateRun(ctx, tx, run); err != nil {
			return nil, err
		}
		if p.sink != nil {
			p.sink.RunCreated(run)
		}
		if err := store.UpdateTaskStatus(ctx, tx, c.task.ID, store.TaskCompleted, now); err != nil {
			return nil, err
		}
	} else {
		if err := store.UpdateTaskStatus(ctx, tx, c.task.ID, store.TaskFailed, now); err != nil {
			return nil, err
		}
	}
	c.task.Status = store.TaskCompleted
	if !merged {
		c.task.Status = store.TaskFailed
	}
	if p.sink != nil {
		p.sink.TaskUpdated(c.task)
	}

	if err := cascade.Run(ctx, tx, c.task.MissionID, c.task.ID, p.sink, p.activator); err != nil {
		return nil, err
	}

	return scheduler.Tick(ctx, tx, p.sink)
}

func summaryForMerge(prNumber int) string {
	return "PR #" + itoa(prNumber) + " merged"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
