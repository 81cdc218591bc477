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

// Package daemon wires together colonyd's store, workflow registry,
// event broadcaster, worker session registry, code-forge client and
// merge-wait poller into one running HTTP server.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/reeflab/colonyd/internal/api"
	"github.com/reeflab/colonyd/internal/config"
	"github.com/reeflab/colonyd/internal/events"
	"github.com/reeflab/colonyd/internal/forge"
	internallog "github.com/reeflab/colonyd/internal/log"
	"github.com/reeflab/colonyd/internal/missionqueue"
	"github.com/reeflab/colonyd/internal/poller"
	"github.com/reeflab/colonyd/internal/session"
	"github.com/reeflab/colonyd/internal/store"
	"github.com/reeflab/colonyd/internal/workflow"
)

// Options carries build-time version information into the daemon, for
// reporting on GET /v1/version.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is colonyd's running process: a store, an in-memory workflow
// registry, the event fan-out, the worker session registry, a
// code-forge client, the per-colony mission queue, the merge-wait
// poller, and the HTTP server that ties them together.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store       *store.Store
	workflows   *workflow.Registry
	broadcaster *events.Broadcaster
	sessions    *session.Registry
	forgeClient forge.Client
	queue       *missionqueue.Queue
	poller      *poller.Poller

	server *http.Server

	mu         sync.Mutex
	started    bool
	pollCancel context.CancelFunc
}

// New constructs a Daemon from cfg. It opens the store, loads the
// workflow manifest directory, and builds every collaborator, but does
// not start listening or polling; call Start for that.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := internallog.New(&internallog.Config{
		Level:     cfg.Log.Level,
		Format:    internallog.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
	})

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	workflows, err := workflow.LoadDir(cfg.WorkflowsDir, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading workflows: %w", err)
	}

	broadcaster := events.New()
	sessions := session.NewRegistry()

	token := cfg.GitHubToken
	if token == "" {
		token = forge.ResolveToken()
	}
	forgeClient := forge.NewGitHubClient(forge.GitHubConfig{Token: token})

	queue := missionqueue.New(workflows, broadcaster)

	mergePoller := poller.New(st, forgeClient, queue, broadcaster, sessions, cfg.MergePollInterval, logger)

	d := &Daemon{
		cfg:         cfg,
		opts:        opts,
		logger:      logger,
		store:       st,
		workflows:   workflows,
		broadcaster: broadcaster,
		sessions:    sessions,
		forgeClient: forgeClient,
		queue:       queue,
		poller:      mergePoller,
	}
	return d, nil
}

// Start runs the HTTP server and the merge-wait poller until ctx is
// cancelled, or the server fails to serve. A cancelled ctx is reported
// as a clean (nil) return; Shutdown is still required to drain the
// listener.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	deps := &api.Deps{
		Store:       d.store,
		Workflows:   d.workflows,
		Broadcaster: d.broadcaster,
		Sessions:    d.sessions,
		Forge:       d.forgeClient,
		Queue:       d.queue,
		AuthToken:   d.cfg.AuthToken,
		Logger:      d.logger,
		Version:     d.opts.Version,
		Commit:      d.opts.Commit,
		BuildDate:   d.opts.BuildDate,
	}

	d.server = &http.Server{
		Addr:         d.cfg.ListenAddr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	pollCtx, cancel := context.WithCancel(ctx)
	d.pollCancel = cancel
	go d.poller.Run(pollCtx)

	d.logger.Info("colonyd starting", "version", d.opts.Version, "listen_addr", d.cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and the poller, then
// closes the store.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}

	if d.pollCancel != nil {
		d.pollCancel()
	}

	var shutdownErr error
	if d.server != nil {
		d.server.SetKeepAlivesEnabled(false)
		shutdownErr = d.server.Shutdown(ctx)
	}

	if err := d.store.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	d.logger.Info("colonyd stopped")
	return shutdownErr
}
