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

// Package config loads colonyd's daemon configuration from an optional
// YAML file, then layers environment variables and CLI flags on top.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	colonyerrors "github.com/reeflab/colonyd/pkg/errors"
)

// Log mirrors internal/log.Config in a YAML-friendly shape.
type Log struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Config is the full daemon configuration.
type Config struct {
	// ListenAddr is the HTTP/WebSocket listen address, e.g. ":8800".
	ListenAddr string `yaml:"listen_addr"`

	// StorePath is the path to the SQLite database file.
	StorePath string `yaml:"store_path"`

	// WorkflowsDir is the directory of workflow manifest YAML files.
	WorkflowsDir string `yaml:"workflows_dir"`

	// AuthToken, if set, is required as a bearer token on every /v1
	// route except /v1/healthz and /v1/version, including the worker
	// and console WebSocket sessions. Empty disables the check.
	AuthToken string `yaml:"auth_token"`

	// GitHubToken authenticates the code-forge client. Falls back to
	// ResolveToken() discovery when empty.
	GitHubToken string `yaml:"github_token"`

	// MergePollInterval is how often the merge-wait poller scans.
	MergePollInterval time.Duration `yaml:"merge_poll_interval"`

	Log Log `yaml:"log"`
}

// Default returns the built-in defaults, matching spec environment
// defaults (listening port 8800).
func Default() *Config {
	return &Config{
		ListenAddr:        ":8800",
		StorePath:         "colonyd.db",
		WorkflowsDir:      "workflows",
		MergePollInterval: 60 * time.Second,
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (if non-empty and present) as YAML over the defaults,
// then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, colonyerrors.Wrapf(err, "reading config file %s", path)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &colonyerrors.ConfigError{Key: path, Reason: "invalid YAML", Cause: err}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("COLONYD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("COLONYD_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("COLONYD_WORKFLOWS_DIR"); v != "" {
		cfg.WorkflowsDir = v
	}
	if v := os.Getenv("COLONYD_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHubToken = v
	}
	if v := os.Getenv("COLONYD_GITHUB_TOKEN"); v != "" {
		cfg.GitHubToken = v
	}
	if v := os.Getenv("COLONYD_MERGE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MergePollInterval = d
		}
	}
}
