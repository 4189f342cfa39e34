// Copyright 2023 The emqx-go Authors
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

// package metrics provides the Prometheus metrics the hub exposes on
// /metrics: connection churn, clone-detection alerts, telemetry ingest
// volume, worker-pool backlog, health-check offline events and
// certificate-rotation restarts.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts accepted device connections.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_connections_total",
		Help: "The total number of device connections accepted by the broker.",
	})

	// SupervisorRestartsTotal counts restarts of supervised background actors.
	SupervisorRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_supervisor_restarts_total",
		Help: "The total number of times a supervised actor has been restarted.",
	},
		[]string{"actor_id"},
	)

	// CloneAlertsTotal counts clone-detection alerts, by the action taken.
	CloneAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_clone_alerts_total",
		Help: "The total number of duplicate-connection alerts raised, by clone action.",
	},
		[]string{"action"},
	)

	// TelemetryIngestedTotal counts telemetry rows successfully persisted.
	TelemetryIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_telemetry_ingested_total",
		Help: "The total number of telemetry messages ingested.",
	})

	// WorkerQueueDepth tracks the number of queued-but-not-yet-run tasks in
	// the interceptor's worker pool.
	WorkerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_worker_queue_depth",
		Help: "The current number of tasks waiting in the async worker pool.",
	})

	// HealthOfflineTotal counts devices the health monitor declared offline.
	HealthOfflineTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_health_offline_total",
		Help: "The total number of devices marked offline by the health-check monitor.",
	})

	// CertRotationRestartsTotal counts broker restarts triggered by certificate rotation.
	CertRotationRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_cert_rotation_restarts_total",
		Help: "The total number of broker restarts triggered by certificate rotation, scheduled or on a change on disk.",
	})
)

// Serve starts an HTTP server to expose the Prometheus metrics.
func Serve(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logFatalf("Metrics server failed: %v", err)
	}
}

// logFatalf can be replaced by tests to prevent process exit.
var logFatalf = log.Fatalf
