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

package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	colonyerrors "github.com/reeflab/colonyd/pkg/errors"
	"github.com/reeflab/colonyd/pkg/httpclient"
)

// GitHubClient is a REST client over api.github.com implementing Client.
type GitHubClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// GitHubConfig configures a GitHubClient.
type GitHubConfig struct {
	// Token authenticates requests; empty means anonymous (rate-limited) access.
	Token string

	// Host is the API host; empty or "github.com" uses the public API.
	Host string

	HTTPClient *http.Client
}

// NewGitHubClient builds a GitHubClient, falling back to a retrying
// default transport when no HTTPClient is supplied.
func NewGitHubClient(cfg GitHubConfig) *GitHubClient {
	baseURL := "https://api.github.com"
	if cfg.Host != "" && cfg.Host != "github.com" {
		baseURL = fmt.Sprintf("https://%s/api/v3", cfg.Host)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		hcCfg := httpclient.DefaultConfig()
		hcCfg.UserAgent = "colonyd-forge-client/1.0"
		client, err := httpclient.New(hcCfg)
		if err != nil {
			httpClient = &http.Client{Timeout: 15 * time.Second}
		} else {
			httpClient = client
		}
	}

	return &GitHubClient{baseURL: baseURL, token: cfg.Token, httpClient: httpClient}
}

// ResolveToken resolves a GitHub token from the environment, then the
// gh CLI, in that order. Returns "" for anonymous access.
func ResolveToken() string {
	if t := os.Getenv("GITHUB_TOKEN"); t != "" {
		return t
	}
	if t := os.Getenv("COLONYD_GITHUB_TOKEN"); t != "" {
		return t
	}
	return ghCLIToken()
}

func ghCLIToken() string {
	out, err := exec.Command("gh", "auth", "token").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (c *GitHubClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return colonyerrors.Wrap(err, "building forge request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return colonyerrors.Wrap(err, "forge request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return colonyerrors.Wrap(err, "reading forge response")
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("forge request %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return colonyerrors.Wrap(err, "decoding forge response")
		}
	}
	return nil
}

type ghIssue struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	State       string `json:"state"`
	PullRequest any    `json:"pull_request"`
	Labels      []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// ListOpenIssues lists open issues on repo, filtering out pull requests
// (GitHub's issues endpoint returns both).
func (c *GitHubClient) ListOpenIssues(ctx context.Context, repo string) ([]Issue, error) {
	var raw []ghIssue
	if err := c.do(ctx, http.MethodGet, "/repos/"+repo+"/issues?state=open&per_page=100", &raw); err != nil {
		return nil, err
	}
	out := make([]Issue, 0, len(raw))
	for _, gi := range raw {
		if gi.PullRequest != nil {
			continue
		}
		out = append(out, toIssue(gi))
	}
	return out, nil
}

// GetIssue fetches a single issue by number.
func (c *GitHubClient) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	var gi ghIssue
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%d", repo, number), &gi); err != nil {
		return nil, err
	}
	issue := toIssue(gi)
	return &issue, nil
}

func toIssue(gi ghIssue) Issue {
	labels := make([]string, 0, len(gi.Labels))
	for _, l := range gi.Labels {
		labels = append(labels, l.Name)
	}
	return Issue{Number: gi.Number, Title: gi.Title, Body: gi.Body, Labels: labels, State: gi.State}
}

type ghPR struct {
	State    string `json:"state"`
	Merged   bool   `json:"merged"`
	MergedAt string `json:"merged_at"`
}

// GetPRStatus fetches a pull request's merge status.
func (c *GitHubClient) GetPRStatus(ctx context.Context, repo string, number int) (*PRStatus, error) {
	var pr ghPR
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", repo, number), &pr); err != nil {
		return nil, err
	}

	status := &PRStatus{State: PRStateOpen}
	if pr.Merged || pr.MergedAt != "" {
		status.State = PRStateMerged
		if t, err := time.Parse(time.RFC3339, pr.MergedAt); err == nil {
			ms := t.UnixMilli()
			status.MergedAt = &ms
		} else {
			now := time.Now().UnixMilli()
			status.MergedAt = &now
		}
	} else if strings.EqualFold(pr.State, "closed") {
		status.State = PRStateClosed
	}
	return status, nil
}
