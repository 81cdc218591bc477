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

// Package events implements the fan-out event broadcaster of §4.8: a
// channel carrying JSON-serialized state deltas to console observers,
// with snapshot-on-connect and snapshot-on-lag recovery.
package events

import (
	"encoding/json"
	"sync"

	"github.com/reeflab/colonyd/internal/store"
)

// Kind discriminates a console event frame's payload shape.
type Kind string

const (
	KindSnapshot       Kind = "snapshot"
	KindCrabUpdated    Kind = "crab_updated"
	KindColonyCreated  Kind = "colony_created"
	KindMissionCreated Kind = "mission_created"
	KindMissionUpdated Kind = "mission_updated"
	KindTaskCreated    Kind = "task_created"
	KindTaskUpdated    Kind = "task_updated"
	KindRunCreated     Kind = "run_created"
	KindRunUpdated     Kind = "run_updated"
	KindRunCompleted   Kind = "run_completed"
)

// subscriberBuffer is the bounded per-subscriber queue depth (§5:
// "bounded queue; send yields until capacity" for worker dispatch; the
// console broadcaster instead drops to a resent snapshot on overflow,
// per §4.8/§7, since observers are not owed delivery of every delta).
const subscriberBuffer = 64

// Summary is the aggregate counters of a status snapshot (§6).
type Summary struct {
	TotalCrabs     int     `json:"total_crabs"`
	BusyCrabs      int     `json:"busy_crabs"`
	RunningTasks   int     `json:"running_tasks"`
	RunningRuns    int     `json:"running_runs"`
	CompletedRuns  int     `json:"completed_runs"`
	FailedRuns     int     `json:"failed_runs"`
	TotalTokens    int64   `json:"total_tokens"`
	AvgEndToEndMs  float64 `json:"avg_end_to_end_ms,omitempty"`
}

// Snapshot is the full status bundle of GET /v1/status and the initial
// WS console frame.
type Snapshot struct {
	GeneratedAtMs int64            `json:"generated_at_ms"`
	Summary       Summary          `json:"summary"`
	Colonies      []*store.Colony  `json:"colonies"`
	Crabs         []*store.Crab    `json:"crabs"`
	Missions      []*store.Mission `json:"missions"`
	Tasks         []*store.Task    `json:"tasks"`
	Runs          []*store.Run     `json:"runs"`
}

// frame is the wire shape of a console event: {type: <kind>, ...payload}.
type frame struct {
	Kind    Kind
	Payload any
}

func (f frame) marshal() ([]byte, error) {
	raw, err := json.Marshal(f.Payload)
	if err != nil {
		return nil, err
	}
	var merged map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &merged); err != nil {
			return nil, err
		}
	} else {
		merged = map[string]any{}
	}
	merged["type"] = f.Kind
	return json.Marshal(merged)
}

// resnapshot is a sentinel delivered to a subscriber whose buffer
// overflowed; the session recognizes it and re-sends a fresh snapshot
// in place of relaying it as a delta.
var resnapshot = []byte(`{"type":"` + string(KindSnapshot) + `","__resync":true}`)

// subscriber is one console observer's outbound queue.
type subscriber struct {
	ch chan []byte
}

// Broadcaster is the process-wide fan-out sender. Publish never blocks
// the caller: full subscriber buffers are drained and replaced with a
// resync marker rather than applying backpressure to the publisher.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New constructs an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new console observer and returns its inbound
// channel plus an unsubscribe function. The channel is closed by
// Unsubscribe, never by Publish.
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	once := sync.Once{}
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, unsubscribe
}

// publish marshals kind/payload into a frame and fans it out.
func (b *Broadcaster) publish(kind Kind, payload any) {
	data, err := frame{Kind: kind, Payload: payload}.marshal()
	if err != nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- data:
		default:
			b.drainAndResync(sub)
		}
	}
}

// drainAndResync empties a lagging subscriber's buffer and enqueues a
// resync marker, per §4.8's lag-recovery behavior. Called with b.mu
// held for read; sub.ch is never closed concurrently with this path
// because Unsubscribe takes the write lock.
func (b *Broadcaster) drainAndResync(sub *subscriber) {
	for {
		select {
		case <-sub.ch:
			continue
		default:
		}
		break
	}
	select {
	case sub.ch <- resnapshot:
	default:
	}
}

// IsResync reports whether a frame delivered to a subscriber is the
// resync marker rather than a real delta.
func IsResync(data []byte) bool {
	return string(data) == string(resnapshot)
}

// CrabUpdated publishes a crab_updated event.
func (b *Broadcaster) CrabUpdated(c *store.Crab) { b.publish(KindCrabUpdated, c) }

// ColonyCreated publishes a colony_created event.
func (b *Broadcaster) ColonyCreated(c *store.Colony) { b.publish(KindColonyCreated, c) }

// MissionCreated publishes a mission_created event.
func (b *Broadcaster) MissionCreated(m *store.Mission) { b.publish(KindMissionCreated, m) }

// MissionUpdated publishes a mission_updated event.
func (b *Broadcaster) MissionUpdated(m *store.Mission) { b.publish(KindMissionUpdated, m) }

// TaskCreated publishes a task_created event.
func (b *Broadcaster) TaskCreated(t *store.Task) { b.publish(KindTaskCreated, t) }

// TaskUpdated publishes a task_updated event.
func (b *Broadcaster) TaskUpdated(t *store.Task) { b.publish(KindTaskUpdated, t) }

// RunCreated publishes a run_created event.
func (b *Broadcaster) RunCreated(r *store.Run) { b.publish(KindRunCreated, r) }

// RunUpdated publishes a run_updated event.
func (b *Broadcaster) RunUpdated(r *store.Run) { b.publish(KindRunUpdated, r) }

// RunCompleted publishes a run_completed event.
func (b *Broadcaster) RunCompleted(r *store.Run) { b.publish(KindRunCompleted, r) }
