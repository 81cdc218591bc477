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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/reeflab/colonyd/internal/config"
	"github.com/reeflab/colonyd/internal/daemon"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to colonyd's YAML config file")
		listenAddr   = flag.String("listen", "", "HTTP/WebSocket listen address, e.g. :8800")
		storePath    = flag.String("store", "", "path to the SQLite database file")
		workflowsDir = flag.String("workflows-dir", "", "directory of workflow manifest YAML files")
		showVersion  = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("colonyd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "colonyd: failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}
	if *workflowsDir != "" {
		cfg.WorkflowsDir = *workflowsDir
	}

	d, err := daemon.New(cfg, daemon.Options{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "colonyd: failed to create daemon: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nreceived signal %v, shutting down\n", sig)
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "colonyd: daemon error: %v\n", err)
			os.Exit(1)
		}
	}
}
