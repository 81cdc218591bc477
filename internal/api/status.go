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
	"net/http"

	"github.com/reeflab/colonyd/internal/events"
)

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	var snap *events.Snapshot
	err := a.Store.Read(r.Context(), func(tx *sql.Tx) error {
		var err error
		snap, err = events.BuildSnapshot(r.Context(), tx)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
