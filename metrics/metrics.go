// Copyright 2019 The SpO2 Authors
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

// Package metrics holds the process instrumentation, exposed on the
// control listener at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbesTotal counts probe outcomes by resulting status.
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spo2",
		Subsystem: "probe",
		Name:      "results_total",
		Help:      "Probe outcomes by resulting status.",
	}, []string{"status"})

	// TransitionsTotal counts per-URL judgment flips.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spo2",
		Subsystem: "checker",
		Name:      "transitions_total",
		Help:      "Transitions between the good and bad judgment.",
	}, []string{"to"})

	// AlertBatchesTotal counts webhook messages assembled for posting.
	AlertBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spo2",
		Subsystem: "alert",
		Name:      "batches_total",
		Help:      "Alert batches flushed to the webhook.",
	})

	// AlertPostErrorsTotal counts webhook posts that failed and were dropped.
	AlertPostErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spo2",
		Subsystem: "alert",
		Name:      "post_errors_total",
		Help:      "Webhook posts that failed; their batches are discarded.",
	})

	// WebsocketClients tracks currently connected dashboard subscribers.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spo2",
		Subsystem: "broadcast",
		Name:      "clients",
		Help:      "Connected websocket subscribers.",
	})
)
