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

// Package session implements the bidirectional worker wire protocol
// and the per-crab outbound queue registry (§4.7).
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageKind discriminates an Envelope's payload shape.
type MessageKind string

const (
	KindTaskAssigned MessageKind = "task_assigned"
	KindTaskProgress MessageKind = "task_progress"
	KindRunUpdate    MessageKind = "run_update"
	KindRunComplete  MessageKind = "run_complete"
	KindHeartbeat    MessageKind = "heartbeat"
)

// Kind carries the discriminant tag and its raw payload.
type Kind struct {
	Type    MessageKind     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Envelope is the wire format exchanged in both directions between the
// control plane and a worker.
type Envelope struct {
	MessageID string `json:"message_id"`
	MissionID string `json:"mission_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
	SentAtMs  int64  `json:"sent_at_ms"`
	Kind      Kind   `json:"kind"`
}

// TaskAssignedPayload is the payload of a task_assigned envelope.
type TaskAssignedPayload struct {
	TaskID        string `json:"task_id"`
	MissionID     string `json:"mission_id"`
	Title         string `json:"title"`
	MissionPrompt string `json:"mission_prompt"`
	DesiredStatus string `json:"desired_status"`
	StepID        string `json:"step_id,omitempty"`
	Role          string `json:"role,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	Context       string `json:"context,omitempty"`
	WorktreePath  string `json:"worktree_path,omitempty"`
}

// HeartbeatPayload is the payload of a heartbeat envelope.
type HeartbeatPayload struct {
	CrabID  string `json:"crab_id"`
	Healthy bool   `json:"healthy"`
}

// NewTaskAssigned builds a task_assigned envelope addressed to crabID.
func NewTaskAssigned(crabID string, p TaskAssignedPayload) (*Envelope, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		MessageID: uuid.NewString(),
		MissionID: p.MissionID,
		TaskID:    p.TaskID,
		From:      "control-plane",
		To:        crabID,
		SentAtMs:  time.Now().UnixMilli(),
		Kind:      Kind{Type: KindTaskAssigned, Payload: payload},
	}, nil
}

// ParseEnvelope decodes a raw worker frame. Malformed frames are the
// caller's responsibility to ignore silently (§7).
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// AsHeartbeat decodes the envelope's payload as a heartbeat, if it is one.
func (e *Envelope) AsHeartbeat() (*HeartbeatPayload, bool) {
	if e.Kind.Type != KindHeartbeat {
		return nil, false
	}
	var p HeartbeatPayload
	if err := json.Unmarshal(e.Kind.Payload, &p); err != nil {
		return nil, false
	}
	return &p, true
}

// Marshal serializes the envelope for transmission.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
