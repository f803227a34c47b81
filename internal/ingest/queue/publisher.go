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

// Package queue hands accepted batches to the filter workers through the
// shared Redis work queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"swgts/internal/ingest/batch"
	"swgts/internal/ingest/store"
	"swgts/internal/logger"
)

// QueueKey is the shared list of job ids the filter workers consume.
const QueueKey = "work:queue"

// ErrEmptyJob rejects publishing a job with no accepted pairs. The
// admission controller short-circuits before reaching the publisher, so
// hitting this is a programming error.
var ErrEmptyJob = errors.New("refusing to enqueue an empty job")

// JobKey names the record list for a job id.
func JobKey(id uuid.UUID) string {
	return fmt.Sprintf("work:%s", id)
}

// Job is one accepted batch bound for the filter workers.
type Job struct {
	SessionID  uuid.UUID
	Pairs      batch.Batch // only accepted pairs; every read already validated
	ChunkCost  int64       // effective cumulated sequence bytes
	ReceivedAt time.Time   // when the upload request was received
}

// Publisher serialises jobs onto the work queue.
type Publisher struct {
	store *store.Store
}

// NewPublisher builds a publisher over the given store.
func NewPublisher(s *store.Store) *Publisher {
	return &Publisher{store: s}
}

// Publish writes the job record and its queue pointer in one MULTI/EXEC.
// The record list work:<jobId>, head to tail, holds: enqueue timestamp
// (epoch seconds, float), pair count, read-pair count, chunk cost,
// session id, then the four lines of every read in batch order. The
// pointer append to work:queue is the last command of the transaction,
// so workers can never observe a pointer without its payload.
func (p *Publisher) Publish(ctx context.Context, job Job) (uuid.UUID, error) {
	if len(job.Pairs) == 0 {
		return uuid.Nil, ErrEmptyJob
	}
	jobID := uuid.New()

	record := make([]interface{}, 0, 5+len(job.Pairs)*len(job.Pairs[0])*batch.LinesPerRead)
	record = append(record,
		strconv.FormatFloat(float64(job.ReceivedAt.UnixNano())/1e9, 'f', -1, 64),
		int64(len(job.Pairs[0])),
		int64(len(job.Pairs)),
		job.ChunkCost,
		job.SessionID.String(),
	)
	for _, pair := range job.Pairs {
		for _, read := range pair {
			for _, line := range read {
				record = append(record, line)
			}
		}
	}

	tx := p.store.TxPipeline()
	tx.RPush(JobKey(jobID), record...)
	tx.RPush(QueueKey, jobID.String())
	if err := tx.Exec(ctx); err != nil {
		return uuid.Nil, err
	}

	logger.Info("enqueued job",
		"job", jobID,
		"context", job.SessionID,
		"pairs", len(job.Pairs),
		"bytes", job.ChunkCost,
	)
	return jobID, nil
}
