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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrabSession_OfflinesCrabOnDisconnect(t *testing.T) {
	router, st, _ := newTestRouter(t)
	seedColony(t, st, "col-1", "acme/reef")

	rec := doJSON(t, router, http.MethodPost, "/v1/crabs/register", map[string]any{"id": "crab-1", "colony_id": "col-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	server := httptest.NewServer(router)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/ws/crab/crab-1"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	var state string
	for i := 0; i < 50; i++ {
		rec := doJSON(t, router, http.MethodGet, "/v1/crabs", nil)
		var body struct {
			Crabs []struct {
				State string `json:"State"`
			} `json:"crabs"`
		}
		decodeBody(t, rec, &body)
		if len(body.Crabs) == 1 {
			state = body.Crabs[0].State
			if state == "offline" {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, "offline", state, "a crab's session closing must mark it offline")
}

func TestCrabSession_RequiresCrabIDPathSegment(t *testing.T) {
	router, _, _ := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/ws/crab/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestConsoleSession_SendsInitialSnapshot(t *testing.T) {
	router, st, _ := newTestRouter(t)
	seedColony(t, st, "col-1", "acme/reef")

	server := httptest.NewServer(router)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/ws/console"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Type     string `json:"type"`
		Colonies []map[string]any
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "snapshot", frame.Type)
	require.Len(t, frame.Colonies, 1)
}
