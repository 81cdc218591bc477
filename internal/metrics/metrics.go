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

// Package metrics publishes Prometheus counters and gauges for the
// scheduler, cascade engine, and merge-wait poller (ambient service
// observability; see SPEC_FULL.md C14).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SchedulerTicks counts scheduler tick invocations.
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colonyd_scheduler_ticks_total",
		Help: "Total scheduler tick invocations.",
	})

	// SchedulerAssignments counts tasks assigned to a crab by a tick.
	SchedulerAssignments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colonyd_scheduler_assignments_total",
		Help: "Total task assignments produced by scheduler ticks.",
	})

	// CascadeRuns counts cascade engine invocations.
	CascadeRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colonyd_cascade_runs_total",
		Help: "Total cascade engine invocations.",
	})

	// CascadeMissionsCompleted counts missions the cascade engine rolled
	// up to a terminal status, labeled by outcome.
	CascadeMissionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colonyd_cascade_missions_completed_total",
		Help: "Missions rolled up to a terminal status, by outcome.",
	}, []string{"status"})

	// PollerTicks counts merge-wait poller scan cycles.
	PollerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colonyd_poller_ticks_total",
		Help: "Total merge-wait poller scan cycles.",
	})

	// PollerOutcomes counts polled PRs by resolution outcome.
	PollerOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colonyd_poller_outcomes_total",
		Help: "Merge-wait poll outcomes, by resolution.",
	}, []string{"outcome"})

	// ConnectedCrabs gauges the number of worker sessions currently open.
	ConnectedCrabs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colonyd_connected_crabs",
		Help: "Number of worker sessions currently connected.",
	})

	// ConsoleSubscribers gauges the number of open console WS sessions.
	ConsoleSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colonyd_console_subscribers",
		Help: "Number of console observer sessions currently connected.",
	})
)

// Handler returns the Prometheus exposition endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
