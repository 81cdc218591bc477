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

package session

import "sync"

// outboundBuffer bounds each crab's outbound queue. Dispatch does not
// wait for room: when the queue is full the envelope is dropped and
// Dispatch returns false.
const outboundBuffer = 16

// Registry tracks one outbound envelope queue per connected crab,
// keyed by crab id (§4.7 step 1). Dispatch from the scheduler looks a
// crab up here after commit, never while the store mutex is held.
type Registry struct {
	mu    sync.Mutex
	queue map[string]chan *Envelope
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{queue: make(map[string]chan *Envelope)}
}

// Register opens crabID's outbound queue, replacing any prior queue
// for the same id (a stale session reconnecting). The returned channel
// is closed by Unregister; callers must stop sending beforehand.
func (r *Registry) Register(crabID string) <-chan *Envelope {
	ch := make(chan *Envelope, outboundBuffer)
	r.mu.Lock()
	r.queue[crabID] = ch
	r.mu.Unlock()
	return ch
}

// Unregister removes and closes crabID's outbound queue, but only if
// it still owns the entry (a newer Register for the same id must win).
func (r *Registry) Unregister(crabID string, ch <-chan *Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.queue[crabID]; ok && cur == ch {
		delete(r.queue, crabID)
		close(cur)
	}
}

// Dispatch pushes env onto crabID's outbound queue if the crab is
// currently connected. Returns false (a silent no-op per §4.7) when
// the crab is offline or its outbound queue is full; the assignment remains recorded in the task row
// and is re-dispatched on the next scheduler tick after reconnection.
func (r *Registry) Dispatch(crabID string, env *Envelope) bool {
	r.mu.Lock()
	ch, ok := r.queue[crabID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
		return true
	default:
		return false
	}
}

// Connected reports whether crabID currently owns an outbound queue.
func (r *Registry) Connected(crabID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queue[crabID]
	return ok
}
