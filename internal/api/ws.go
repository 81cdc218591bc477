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
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reeflab/colonyd/internal/events"
	"github.com/reeflab/colonyd/internal/metrics"
	"github.com/reeflab/colonyd/internal/session"
	"github.com/reeflab/colonyd/internal/store"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleCrabSession is the worker session endpoint of §4.7: the crab's
// outbound queue is registered on connect and torn down (crab offlined)
// on disconnect. Inbound frames are limited to heartbeats; task/run
// mutation travels over the HTTP endpoints, which is where the
// transactional envelope (cascade/schedule/dispatch) lives.
func (a *api) handleCrabSession(w http.ResponseWriter, r *http.Request) {
	crabID := r.PathValue("crab_id")
	if crabID == "" {
		badRequest(w, "crab_id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn("crab websocket upgrade failed", "crab_id", crabID, "error", err)
		return
	}
	defer conn.Close()

	outbound := a.Sessions.Register(crabID)
	metrics.ConnectedCrabs.Inc()
	defer func() {
		a.Sessions.Unregister(crabID, outbound)
		metrics.ConnectedCrabs.Dec()
		a.offlineCrab(crabID)
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	done := make(chan struct{})
	go a.crabWritePump(conn, outbound, done)
	a.crabReadPump(conn, crabID, done)
}

// crabWritePump relays assignment envelopes and pings to the socket.
// Exits when the read pump signals done (peer gone) or outbound closes
// (Unregister ran first, e.g. a newer session replaced this one).
func (a *api) crabWritePump(conn *websocket.Conn, outbound <-chan *session.Envelope, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env, ok := <-outbound:
			if !ok {
				return
			}
			raw, err := env.Marshal()
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (a *api) crabReadPump(conn *websocket.Conn, crabID string, done chan<- struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := session.ParseEnvelope(raw)
		if err != nil {
			continue
		}
		if hb, ok := env.AsHeartbeat(); ok {
			a.handleHeartbeat(hb)
		}
	}
}

// handleHeartbeat touches a crab's updated_at timestamp in its own
// short transaction; a missing crab (never registered, or offlined
// between frames) is silently ignored, per §7's tolerance for stale
// worker-originated frames.
func (a *api) handleHeartbeat(hb *session.HeartbeatPayload) {
	if hb == nil || hb.CrabID == "" {
		return
	}
	ctx := context.Background()
	tx, err := a.Store.Begin(ctx)
	if err != nil {
		return
	}
	if err := store.TouchCrab(ctx, tx.Raw(), hb.CrabID, store.Now()); err != nil {
		tx.Rollback()
		return
	}
	tx.Commit()
}

// offlineCrab marks a crab offline after its session closes. Runs in
// its own transaction since the original request context is gone by
// the time the socket actually drops.
func (a *api) offlineCrab(crabID string) {
	ctx := context.Background()
	tx, err := a.Store.Begin(ctx)
	if err != nil {
		return
	}
	now := store.Now()
	if err := store.SetCrabOffline(ctx, tx.Raw(), crabID, now); err != nil {
		tx.Rollback()
		return
	}
	crab, getErr := store.GetCrab(ctx, tx.Raw(), crabID)
	if err := tx.Commit(); err != nil {
		return
	}
	if getErr == nil && a.Broadcaster != nil {
		a.Broadcaster.CrabUpdated(crab)
	}
}

// handleConsoleSession is the observer endpoint of §4.8: it sends a
// full snapshot on connect, then relays broadcaster deltas verbatim,
// re-sending a fresh snapshot in place of any delta lost to lag.
func (a *api) handleConsoleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn("console websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe := a.Broadcaster.Subscribe()
	defer unsubscribe()
	metrics.ConsoleSubscribers.Inc()
	defer metrics.ConsoleSubscribers.Dec()

	if err := a.sendSnapshot(conn); err != nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	done := make(chan struct{})
	go a.consoleReadPump(conn, done)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			if events.IsResync(data) {
				if err := a.sendSnapshot(conn); err != nil {
					return
				}
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// consoleReadPump discards inbound console frames; their only purpose
// is to keep the connection's pong deadline fresh. A read error (or a
// close frame) ends the session.
func (a *api) consoleReadPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (a *api) sendSnapshot(conn *websocket.Conn) error {
	var snap *events.Snapshot
	err := a.Store.Read(context.Background(), func(tx *sql.Tx) error {
		var err error
		snap, err = events.BuildSnapshot(context.Background(), tx)
		return err
	})
	if err != nil {
		return err
	}
	data, err := json.Marshal(struct {
		Type string `json:"type"`
		*events.Snapshot
	}{Type: string(events.KindSnapshot), Snapshot: snap})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
