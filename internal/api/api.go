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

// Package api implements the HTTP/JSON and WebSocket request surface
// of §4.10/§6: every mutating endpoint follows the transactional
// envelope (begin tx, validate, mutate, cascade/activate/schedule,
// commit, dispatch); read endpoints run under a read-only use of the
// same lock.
package api

import (
	"log/slog"

	"github.com/reeflab/colonyd/internal/events"
	"github.com/reeflab/colonyd/internal/forge"
	"github.com/reeflab/colonyd/internal/missionqueue"
	"github.com/reeflab/colonyd/internal/scheduler"
	"github.com/reeflab/colonyd/internal/session"
	"github.com/reeflab/colonyd/internal/store"
	"github.com/reeflab/colonyd/internal/workflow"
)

// Sink is the combined notification interface every component in this
// package publishes through. *events.Broadcaster satisfies it
// structurally, with no adapter needed.
type Sink interface {
	ColonyCreated(c *store.Colony)
	CrabUpdated(c *store.Crab)
	MissionCreated(m *store.Mission)
	MissionUpdated(m *store.Mission)
	TaskCreated(t *store.Task)
	TaskUpdated(t *store.Task)
	RunCreated(r *store.Run)
	RunUpdated(r *store.Run)
	RunCompleted(r *store.Run)
}

// Dispatcher delivers assignment envelopes after commit.
type Dispatcher interface {
	Dispatch(crabID string, env *session.Envelope) bool
}

// Deps bundles everything a handler needs. Every field is shared,
// long-lived state; handlers never hold state of their own.
type Deps struct {
	Store       *store.Store
	Workflows   *workflow.Registry
	Broadcaster *events.Broadcaster
	Sessions    *session.Registry
	Forge       forge.Client
	Queue       *missionqueue.Queue
	AuthToken   string
	Logger      *slog.Logger

	Version   string
	Commit    string
	BuildDate string
}

// api is the receiver embedding Deps that every handler file hangs
// methods off of.
type api struct {
	*Deps
}

// dispatch pushes every scheduler assignment to its crab's outbound
// queue. Must be called only after the enclosing transaction commits.
func (a *api) dispatch(assignments []scheduler.Assignment) {
	for _, asn := range assignments {
		if a.Sessions != nil {
			a.Sessions.Dispatch(asn.CrabID, asn.Envelope)
		}
	}
}
