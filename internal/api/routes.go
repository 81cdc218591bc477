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

package api

import (
	"net/http"

	"github.com/reeflab/colonyd/internal/log"
	"github.com/reeflab/colonyd/internal/metrics"
)

// NewRouter builds the complete HTTP handler: every route of §6 plus the
// Prometheus exposition endpoint, all wrapped in request logging. Every
// /v1 route except healthz and version is also wrapped in bearer-token
// auth (when configured); /metrics is not.
func NewRouter(deps *Deps) http.Handler {
	a := &api{Deps: deps}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/healthz", a.handleHealthz)
	mux.HandleFunc("GET /v1/version", a.handleVersion)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /v1/status", a.requireAuth(a.handleStatus))
	mux.HandleFunc("GET /v1/workflows", a.requireAuth(a.handleListWorkflows))

	mux.HandleFunc("POST /v1/colonies", a.requireAuth(a.handleCreateColony))
	mux.HandleFunc("GET /v1/colonies", a.requireAuth(a.handleListColonies))
	mux.HandleFunc("PATCH /v1/colonies/{id}", a.requireAuth(a.handleUpdateColony))
	mux.HandleFunc("GET /v1/colonies/{id}/issues", a.requireAuth(a.handleListIssues))
	mux.HandleFunc("GET /v1/colonies/{id}/queue", a.requireAuth(a.handleListQueue))
	mux.HandleFunc("POST /v1/colonies/{id}/queue", a.requireAuth(a.handleQueueIssue))
	mux.HandleFunc("DELETE /v1/colonies/{id}/queue/{mission_id}", a.requireAuth(a.handleDequeueMission))

	mux.HandleFunc("POST /v1/crabs/register", a.requireAuth(a.handleRegisterCrab))
	mux.HandleFunc("GET /v1/crabs", a.requireAuth(a.handleListCrabs))

	mux.HandleFunc("POST /v1/missions", a.requireAuth(a.handleCreateMission))
	mux.HandleFunc("GET /v1/missions", a.requireAuth(a.handleListMissions))
	mux.HandleFunc("GET /v1/missions/{id}", a.requireAuth(a.handleGetMission))

	mux.HandleFunc("POST /v1/tasks", a.requireAuth(a.handleCreateTask))

	mux.HandleFunc("POST /v1/runs/start", a.requireAuth(a.handleStartRun))
	mux.HandleFunc("POST /v1/runs/update", a.requireAuth(a.handleUpdateRun))
	mux.HandleFunc("POST /v1/runs/complete", a.requireAuth(a.handleCompleteRun))

	mux.HandleFunc("GET /v1/ws/crab/{crab_id}", a.requireAuth(a.handleCrabSession))
	mux.HandleFunc("GET /v1/ws/console", a.requireAuth(a.handleConsoleSession))

	requestLogger := log.NewRequestMiddleware(deps.Logger)
	return requestLogger.Wrap(mux)
}
