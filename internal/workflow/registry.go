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

package workflow

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry is an immutable, in-memory index of parsed manifests and
// prompt template files, loaded once at startup. No locking: readers
// never race a writer because load happens before the registry is
// handed to any request handler.
type Registry struct {
	dir       string
	manifests map[string]*Manifest
}

// LoadDir parses every *.yaml/*.yml file in dir as a Manifest. Parse
// failures on individual files are logged as warnings and skipped; the
// service still starts even with zero loadable manifests.
func LoadDir(dir string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{dir: dir, manifests: make(map[string]*Manifest)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("workflow manifest unreadable, skipping", "path", path, "error", err)
			continue
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			logger.Warn("workflow manifest invalid, skipping", "path", path, "error", err)
			continue
		}
		if m.Name == "" {
			logger.Warn("workflow manifest missing name, skipping", "path", path)
			continue
		}
		r.manifests[m.Name] = &m
	}

	return r, nil
}

// Get looks up a manifest by name.
func (r *Registry) Get(name string) (*Manifest, bool) {
	m, ok := r.manifests[name]
	return m, ok
}

// Names returns every manifest name, alphabetically sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.manifests))
	for n := range r.manifests {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ReadPromptFile reads a prompt template file by path relative to the
// registry's manifest directory.
func (r *Registry) ReadPromptFile(relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, relPath))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
