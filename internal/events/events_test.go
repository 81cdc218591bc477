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

package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeflab/colonyd/internal/events"
	"github.com/reeflab/colonyd/internal/store"
)

func TestBroadcaster_PublishDeliversToSubscriber(t *testing.T) {
	b := events.New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.CrabUpdated(&store.Crab{ID: "crab-1", State: store.CrabIdle})

	select {
	case data := <-ch:
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, string(events.KindCrabUpdated), frame["type"])
		assert.Equal(t, "crab-1", frame["ID"])
	case <-time.After(time.Second):
		t.Fatal("expected a crab_updated frame")
	}
}

func TestBroadcaster_PublishFansOutToAllSubscribers(t *testing.T) {
	b := events.New()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.MissionCreated(&store.Mission{ID: "m-1"})

	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case data := <-ch:
			assert.Contains(t, string(data), "mission_created")
		case <-time.After(time.Second):
			t.Fatal("expected both subscribers to receive the event")
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := events.New()
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBroadcaster_LaggingSubscriberGetsResyncInsteadOfBlocking(t *testing.T) {
	b := events.New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// flood well past the bounded buffer without draining; Publish
	// must never block the caller on a lagging subscriber.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.TaskUpdated(&store.Task{ID: "t-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish should never block on a full subscriber queue")
	}

	var sawResync bool
	drain := true
	for drain {
		select {
		case data := <-ch:
			if events.IsResync(data) {
				sawResync = true
			}
		default:
			drain = false
		}
	}
	assert.True(t, sawResync, "an overflowed subscriber should receive a resync marker")
}

func TestBroadcaster_UnsubscribeIsIdempotent(t *testing.T) {
	b := events.New()
	_, unsubscribe := b.Subscribe()
	unsubscribe()
	assert.NotPanics(t, unsubscribe)
}
