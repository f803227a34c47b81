// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package telemetry holds the process-level Prometheus collectors for the
// ingest server. Metrics are global with bounded label cardinality.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Upload outcomes used as the label of uploadsTotal.
const (
	OutcomeAccepted       = "accepted"
	OutcomeBadShape       = "bad_shape"
	OutcomePairMismatch   = "pair_count_mismatch"
	OutcomeNoSuchContext  = "no_such_context"
	OutcomeChunkTooLarge  = "chunk_too_large"
	OutcomeBudgetExceeded = "budget_exceeded"
	OutcomeStoreError     = "store_error"
)

var (
	uploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swgts_uploads_total",
		Help: "Upload batches handled, labelled by admission outcome",
	}, []string{"outcome"})

	acceptedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swgts_accepted_bytes_total",
		Help: "Effective sequence bytes admitted into pending budgets",
	})

	droppedBasesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swgts_dropped_bases_total",
		Help: "Sequence bytes discarded because a single read exceeded the budget",
	})

	jobsEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swgts_jobs_enqueued_total",
		Help: "Jobs appended to the shared work queue",
	})

	sessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swgts_sessions_created_total",
		Help: "Upload sessions created",
	})

	sessionsClosedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swgts_sessions_closed_total",
		Help: "Upload sessions closed and flushed",
	})

	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swgts_websocket_connections",
		Help: "Currently open message-transport connections",
	})
)

func init() {
	prometheus.MustRegister(
		uploadsTotal,
		acceptedBytesTotal,
		droppedBasesTotal,
		jobsEnqueuedTotal,
		sessionsCreatedTotal,
		sessionsClosedTotal,
		wsConnections,
	)
}

// RecordUpload counts one handled upload batch by outcome.
func RecordUpload(outcome string) { uploadsTotal.WithLabelValues(outcome).Inc() }

// AddAcceptedBytes counts admitted effective bytes.
func AddAcceptedBytes(n int64) {
	if n > 0 {
		acceptedBytesTotal.Add(float64(n))
	}
}

// AddDroppedBases counts oversize-dropped sequence bytes.
func AddDroppedBases(n int64) {
	if n > 0 {
		droppedBasesTotal.Add(float64(n))
	}
}

// RecordJobEnqueued counts one published job.
func RecordJobEnqueued() { jobsEnqueuedTotal.Inc() }

// RecordSessionCreated counts one created session.
func RecordSessionCreated() { sessionsCreatedTotal.Inc() }

// RecordSessionClosed counts one closed session.
func RecordSessionClosed() { sessionsClosedTotal.Inc() }

// ConnectionOpened tracks a new message-transport connection.
func ConnectionOpened() { wsConnections.Inc() }

// ConnectionClosed tracks a dropped message-transport connection.
func ConnectionClosed() { wsConnections.Dec() }
