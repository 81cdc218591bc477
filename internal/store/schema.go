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
	"database/sql"
	"strings"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS colonies (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	repo TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS crabs (
	id TEXT PRIMARY KEY,
	colony_id TEXT NOT NULL REFERENCES colonies(id),
	role TEXT NOT NULL DEFAULT 'any',
	state TEXT NOT NULL DEFAULT 'idle',
	current_task_id TEXT NOT NULL DEFAULT '',
	current_run_id TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crabs_colony ON crabs(colony_id);
CREATE INDEX IF NOT EXISTS idx_crabs_state ON crabs(state);

CREATE TABLE IF NOT EXISTS missions (
	id TEXT PRIMARY KEY,
	colony_id TEXT NOT NULL REFERENCES colonies(id),
	prompt TEXT NOT NULL DEFAULT '',
	workflow TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	work_dir TEXT NOT NULL DEFAULT '',
	queue_position INTEGER,
	issue_number INTEGER,
	pr_number INTEGER,
	created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_missions_colony ON missions(colony_id);
CREATE INDEX IF NOT EXISTS idx_missions_queue ON missions(colony_id, queue_position);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	mission_id TEXT NOT NULL REFERENCES missions(id),
	title TEXT NOT NULL DEFAULT '',
	assigned_crab_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'queued',
	step_id TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '',
	max_retries INTEGER NOT NULL DEFAULT 0,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_mission ON tasks(mission_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_step ON tasks(mission_id, step_id);

CREATE TABLE IF NOT EXISTS task_deps (
	task_id TEXT NOT NULL REFERENCES tasks(id),
	depends_on_task_id TEXT NOT NULL REFERENCES tasks(id),
	PRIMARY KEY (task_id, depends_on_task_id)
);
CREATE INDEX IF NOT EXISTS idx_task_deps_depends_on ON task_deps(depends_on_task_id);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	mission_id TEXT NOT NULL REFERENCES missions(id),
	task_id TEXT NOT NULL REFERENCES tasks(id),
	crab_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'queued',
	burrow_path TEXT NOT NULL DEFAULT '',
	burrow_mode TEXT NOT NULL DEFAULT 'worktree',
	progress TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens_set INTEGER NOT NULL DEFAULT 0,
	first_token_ms INTEGER,
	llm_duration_ms INTEGER,
	exec_duration_ms INTEGER,
	end_to_end_ms INTEGER,
	started_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	completed_at_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id);
CREATE INDEX IF NOT EXISTS idx_runs_mission ON runs(mission_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// additive migrations applied after the base schema; duplicate-column
// errors are tolerated so a restart against a database created by an
// older version of this schema upgrades cleanly.
var additiveMigrations = []string{
	`ALTER TABLE crabs ADD COLUMN current_run_id TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE tasks ADD COLUMN max_retries INTEGER NOT NULL DEFAULT 0`,
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}
	for _, stmt := range additiveMigrations {
		if _, err := db.Exec(stmt); err != nil && !isDuplicateColumn(err) {
			return err
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}
