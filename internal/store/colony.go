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

package store

import (
	"context"
	"regexp"

	colonyerrors "github.com/reeflab/colonyd/pkg/errors"
)

var repoPattern = regexp.MustCompile(`^[^/\s]+/[^/\s]+$`)

// ValidRepo reports whether repo is empty or matches "segment/segment".
func ValidRepo(repo string) bool {
	return repo == "" || repoPattern.MatchString(repo)
}

// CreateColony inserts a new colony row.
func CreateColony(ctx context.Context, q Querier, c *Colony) error {
	if !ValidRepo(c.Repo) {
		return &colonyerrors.ValidationError{Field: "repo", Message: "must match owner/name"}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO colonies (id, name, description, repo, created_at_ms)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, c.Repo, c.CreatedAtMs)
	if err != nil {
		return colonyerrors.Wrap(err, "creating colony")
	}
	return nil
}

// GetColony fetches a colony by id.
func GetColony(ctx context.Context, q Querier, id string) (*Colony, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, description, repo, created_at_ms
		FROM colonies WHERE id = ?`, id)
	var c Colony
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Repo, &c.CreatedAtMs); err != nil {
		return nil, &colonyerrors.NotFoundError{Resource: "colony", ID: id}
	}
	return &c, nil
}

// ListColonies returns every colony, oldest first.
func ListColonies(ctx context.Context, q Querier) ([]*Colony, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, description, repo, created_at_ms
		FROM colonies ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "listing colonies")
	}
	defer rows.Close()

	var out []*Colony
	for rows.Next() {
		var c Colony
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Repo, &c.CreatedAtMs); err != nil {
			return nil, colonyerrors.Wrap(err, "scanning colony")
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateColony patches name/description/repo; empty fields are left unchanged
// by the caller pre-merging onto an existing *Colony before calling this.
func UpdateColony(ctx context.Context, q Querier, c *Colony) error {
	if !ValidRepo(c.Repo) {
		return &colonyerrors.ValidationError{Field: "repo", Message: "must match owner/name"}
	}
	res, err := q.ExecContext(ctx, `
		UPDATE colonies SET name = ?, description = ?, repo = ? WHERE id = ?`,
		c.Name, c.Description, c.Repo, c.ID)
	if err != nil {
		return colonyerrors.Wrap(err, "updating colony")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &colonyerrors.NotFoundError{Resource: "colony", ID: c.ID}
	}
	return nil
}
