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

// Package workflow holds the in-memory workflow registry, the
// manifest-to-DAG expander, and the condition-gate grammar.
package workflow

// Step is one node of a workflow manifest.
type Step struct {
	ID         string   `yaml:"id"`
	Role       string   `yaml:"role"`
	PromptFile string   `yaml:"prompt_file"`
	DependsOn  []string `yaml:"depends_on"`
	Condition  string   `yaml:"condition"`
	MaxRetries int      `yaml:"max_retries"`
}

// Manifest is a named, ordered recipe for a mission's task DAG.
type Manifest struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}
