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

// Package store is the durable, transactional home of every entity in
// the control plane: colonies, crabs, missions, tasks, task dependency
// edges, and runs. All mutation is serialized by a single process-wide
// mutex and happens inside a database/sql transaction.
package store

import "time"

// CrabState is a worker's connection/assignment state.
type CrabState string

const (
	CrabIdle    CrabState = "idle"
	CrabBusy    CrabState = "busy"
	CrabOffline CrabState = "offline"
)

// MissionStatus is a mission's lifecycle status.
type MissionStatus string

const (
	MissionPending   MissionStatus = "pending"
	MissionRunning   MissionStatus = "running"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
)

// IsTerminal reports whether status admits no further transitions.
func (s MissionStatus) IsTerminal() bool {
	return s == MissionCompleted || s == MissionFailed
}

// TaskStatus is a task's position in the cascade state machine.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskBlocked   TaskStatus = "blocked"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// IsTerminal reports whether status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// RunStatus is a run's lifecycle status.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunBlocked   RunStatus = "blocked"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IsTerminal reports whether status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// BurrowMode is where a run executes its work.
type BurrowMode string

const (
	BurrowWorktree    BurrowMode = "worktree"
	BurrowExternalRepo BurrowMode = "external_repo"
)

// Colony is a worker group bound to one code repository.
type Colony struct {
	ID          string
	Name        string
	Description string
	Repo        string // "" if unset; otherwise "owner/name"
	CreatedAtMs int64
}

// Crab is a registered worker.
type Crab struct {
	ID            string
	ColonyID      string
	Role          string
	State         CrabState
	CurrentTaskID string // "" if none
	CurrentRunID  string // "" if none
	CreatedAtMs   int64
	UpdatedAtMs   int64
}

// Mission is a high-level goal within a colony.
type Mission struct {
	ID            string
	ColonyID      string
	Prompt        string
	Workflow      string // "" if none
	Status        MissionStatus
	WorkDir       string // "" if unset
	QueuePosition *int   // nil => not part of the sequential queue
	IssueNumber   *int
	PRNumber      *int
	CreatedAtMs   int64
}

// Task is a unit of work within a mission.
type Task struct {
	ID            string
	MissionID     string
	Title         string
	AssignedCrab  string // "" if unassigned
	Status        TaskStatus
	StepID        string // "" => ad-hoc, does not participate in cascade
	Role          string // "" => unconstrained ("any")
	Prompt        string
	Context       string // "" if none; JSON metadata or Markdown blob, see §4.4.2
	MaxRetries    int    // durable copy of the step's retry budget; context's _max_retries is overwritten once the task's context becomes an accumulated-context blob
	CreatedAtMs   int64
	UpdatedAtMs   int64
}

// Run is one attempt by a worker to complete a task.
type Run struct {
	ID                string
	MissionID         string
	TaskID            string
	CrabID            string
	Status            RunStatus
	BurrowPath        string
	BurrowMode        BurrowMode
	Progress          string
	Summary           string // "" if unset
	PromptTokens      int64
	CompletionTokens  int64
	TotalTokens       int64
	TotalTokensSet    bool // true once an explicit total has been patched in
	FirstTokenMs      *int64
	LLMDurationMs     *int64
	ExecDurationMs    *int64
	EndToEndMs        *int64
	StartedAtMs       int64
	UpdatedAtMs       int64
	CompletedAtMs     *int64
}

// Now returns the current time in Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}
