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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reeflab/colonyd/internal/api"
	"github.com/reeflab/colonyd/internal/events"
	"github.com/reeflab/colonyd/internal/session"
	"github.com/reeflab/colonyd/internal/store"
	"github.com/reeflab/colonyd/internal/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// newTestRouter builds a complete router over a fresh SQLite-backed
// store and an empty workflow registry, returning the router plus the
// store for fixture setup and the broadcaster for asserting published
// events.
func newTestRouter(t *testing.T) (http.Handler, *store.Store, *events.Broadcaster) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "colonyd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg, err := workflow.LoadDir(t.TempDir(), discardLogger())
	require.NoError(t, err)

	broadcaster := events.New()
	deps := &api.Deps{
		Store:       st,
		Workflows:   reg,
		Broadcaster: broadcaster,
		Sessions:    session.NewRegistry(),
		Logger:      discardLogger(),
		Version:     "test",
	}
	return api.NewRouter(deps), st, broadcaster
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func seedColony(t *testing.T, st *store.Store, id, repo string) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateColony(ctx, tx.Raw(), &store.Colony{ID: id, Name: "reef", Repo: repo, CreatedAtMs: store.Now()}))
	require.NoError(t, tx.Commit())
}
