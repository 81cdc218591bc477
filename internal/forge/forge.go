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

// Package forge implements the external code-forge interface of §6:
// listing open issues, fetching a single issue, and querying PR merge
// status. The only consumers are the colony issues endpoint and the
// merge-wait poller; CLI-fallback/GraphQL plumbing beyond this surface
// is an out-of-scope collaborator per spec §1.
package forge

import "context"

// Issue is an open issue on a colony's bound repository.
type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
	State  string   `json:"state"`
}

// PRState is the lifecycle state of a pull request as reported by the
// forge. Unrecognized values pass through unchanged; callers only
// special-case "MERGED" and "CLOSED" per §4.9.
type PRState string

const (
	PRStateOpen   PRState = "OPEN"
	PRStateMerged PRState = "MERGED"
	PRStateClosed PRState = "CLOSED"
)

// PRStatus is the merge-wait poller's view of a pull request.
type PRStatus struct {
	State    PRState
	MergedAt *int64 // unix ms, nil if not merged
}

// Client is the external code-forge interface consumed by the issues
// endpoint and the merge-wait poller.
type Client interface {
	ListOpenIssues(ctx context.Context, repo string) ([]Issue, error)
	GetIssue(ctx context.Context, repo string, number int) (*Issue, error)
	GetPRStatus(ctx context.Context, repo string, number int) (*PRStatus, error)
}
