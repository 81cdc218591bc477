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
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/reeflab/colonyd/internal/store"
)

type registerCrabRequest struct {
	ID       string `json:"id"`
	ColonyID string `json:"colony_id"`
	Role     string `json:"role"`
}

// handleRegisterCrab upserts a crab by id. Re-registration of an
// already-known crab is idempotent and does not change its colony
// binding. A crab registering (or re-registering) may unblock work
// that was waiting on an idle worker, so a scheduler tick always
// follows, per the offline-dispatch recovery note in §4.7.
func (a *api) handleRegisterCrab(w http.ResponseWriter, r *http.Request) {
	var req registerCrabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.ID == "" {
		badRequest(w, "id is required")
		return
	}
	if req.ColonyID == "" {
		badRequest(w, "colony_id is required")
		return
	}
	if req.Role == "" {
		req.Role = "any"
	}

	tx, err := a.Store.Begin(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	if _, err := store.GetColony(r.Context(), tx.Raw(), req.ColonyID); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}

	now := store.Now()
	c := &store.Crab{
		ID:          req.ID,
		ColonyID:    req.ColonyID,
		Role:        req.Role,
		State:       store.CrabIdle,
		UpdatedAtMs: now,
	}
	if err := store.UpsertCrab(r.Context(), tx.Raw(), c); err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if a.Broadcaster != nil {
		a.Broadcaster.CrabUpdated(c)
	}

	assignments, err := tickScheduler(r.Context(), tx.Raw(), a.Broadcaster)
	if err != nil {
		tx.Rollback()
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	a.dispatch(assignments)
	writeOK(w, map[string]any{"crab": c})
}

func (a *api) handleListCrabs(w http.ResponseWriter, r *http.Request) {
	var crabs []*store.Crab
	err := a.Store.Read(r.Context(), func(tx *sql.Tx) error {
		var err error
		crabs, err = store.ListCrabs(r.Context(), tx)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"crabs": crabs})
}
