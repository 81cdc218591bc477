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

	"github.com/reeflab/colonyd/internal/scheduler"
)

// tickScheduler runs a scheduler pass at the tail of a mutating
// transaction, per §4.5. sink may be nil in tests.
func tickScheduler(ctx context.Context, tx *sql.Tx, sink Sink) ([]scheduler.Assignment, error) {
	return scheduler.Tick(ctx, tx, sink)
}
