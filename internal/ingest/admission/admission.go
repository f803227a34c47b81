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

// Package admission validates, prices and budget-checks upload batches,
// and hands accepted batches to the work-queue publisher. Both the HTTP
// and the message transport run every upload through this controller.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"swgts/internal/ingest/batch"
	"swgts/internal/ingest/queue"
	"swgts/internal/ingest/session"
	"swgts/internal/ingest/telemetry"
)

// ChunkTooLargeError rejects a batch whose accepted cost alone exceeds
// the budget. Retrying the same batch cannot succeed; RetryAfter exists
// only to slow the client down.
type ChunkTooLargeError struct {
	ProcessedReads int64
	RetryAfter     float64 // seconds
}

func (e *ChunkTooLargeError) Error() string {
	return "chunk is larger than the configured buffer size"
}

// BudgetExceededError rejects a batch that does not currently fit into
// the session's pending budget. Transient; retry after RetryAfter.
type BudgetExceededError struct {
	PendingBytes   int64
	ProcessedReads int64
	RetryAfter     float64 // seconds
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("too much data pending (%d bytes)", e.PendingBytes)
}

// Result is the state reported back to the client after an accepted
// upload.
type Result struct {
	PendingBytes   int64
	ProcessedReads int64
}

// Controller prices uploads against the per-session budget.
type Controller struct {
	sessions  *session.Registry
	publisher *queue.Publisher
	budget    int64
}

// NewController builds the admission controller. budget is the
// per-session pending-byte limit.
func NewController(sessions *session.Registry, publisher *queue.Publisher, budget int64) *Controller {
	return &Controller{sessions: sessions, publisher: publisher, budget: budget}
}

// Budget returns the configured per-session pending-byte limit.
func (c *Controller) Budget() int64 { return c.budget }

// Process runs one upload through validation, pricing and the atomic
// budget check, then enqueues the accepted pairs. receivedAt is the
// request reception time recorded on the job.
//
// Error kinds surfaced to transports: session.ErrNoSuchContext,
// *batch.ShapeError, *batch.PairCountError, *ChunkTooLargeError,
// *BudgetExceededError; anything else is a store or queue failure.
func (c *Controller) Process(ctx context.Context, id uuid.UUID, b batch.Batch, receivedAt time.Time) (Result, error) {
	res, err := c.process(ctx, id, b, receivedAt)
	telemetry.RecordUpload(outcome(err))
	return res, err
}

func outcome(err error) string {
	var (
		shapeErr  *batch.ShapeError
		pairErr   *batch.PairCountError
		largeErr  *ChunkTooLargeError
		budgetErr *BudgetExceededError
	)
	switch {
	case err == nil:
		return telemetry.OutcomeAccepted
	case errors.Is(err, session.ErrNoSuchContext):
		return telemetry.OutcomeNoSuchContext
	case errors.As(err, &shapeErr):
		return telemetry.OutcomeBadShape
	case errors.As(err, &pairErr):
		return telemetry.OutcomePairMismatch
	case errors.As(err, &largeErr):
		return telemetry.OutcomeChunkTooLarge
	case errors.As(err, &budgetErr):
		return telemetry.OutcomeBudgetExceeded
	default:
		return telemetry.OutcomeStoreError
	}
}

func (c *Controller) process(ctx context.Context, id uuid.UUID, b batch.Batch, receivedAt time.Time) (Result, error) {
	pairCount, err := c.sessions.PairCount(ctx, id)
	if err != nil {
		return Result{}, err
	}

	if err := b.Validate(int(pairCount)); err != nil {
		return Result{}, err
	}

	// Pricing: per-read size cap, whole-pair drop on the first oversize
	// read. Only accepted pairs contribute to the chunk cost.
	var (
		cost          int64
		oversizeBases int64
		accepted      = make(batch.Batch, 0, len(b))
	)
	for _, pair := range b {
		var pairCost int64
		oversize := false
		for _, read := range pair {
			length := int64(len(read.Sequence()))
			if length <= c.budget {
				pairCost += length
				continue
			}
			oversizeBases += length
			oversize = true
			break
		}
		if !oversize {
			cost += pairCost
			accepted = append(accepted, pair)
		}
	}

	if oversizeBases > 0 {
		if err := c.sessions.IncrementDroppedBases(ctx, oversizeBases); err != nil {
			return Result{}, err
		}
		telemetry.AddDroppedBases(oversizeBases)
	}

	if cost > c.budget {
		return Result{}, c.chunkTooLarge(ctx, id, cost)
	}

	droppedPairs := int64(len(b) - len(accepted))
	pending, processed, err := c.sessions.TryAdmit(ctx, id, cost, droppedPairs, c.budget)
	if err != nil {
		var budgetErr *session.BudgetExceededError
		if errors.As(err, &budgetErr) {
			return Result{}, c.budgetExceeded(ctx, id, cost, budgetErr.Pending)
		}
		return Result{}, err
	}
	telemetry.AddAcceptedBytes(cost)

	if len(accepted) > 0 {
		_, err := c.publisher.Publish(ctx, queue.Job{
			SessionID:  id,
			Pairs:      accepted,
			ChunkCost:  cost,
			ReceivedAt: receivedAt,
		})
		if err != nil {
			return Result{}, err
		}
		telemetry.RecordJobEnqueued()
	}

	return Result{PendingBytes: pending, ProcessedReads: processed}, nil
}

func (c *Controller) chunkTooLarge(ctx context.Context, id uuid.UUID, cost int64) error {
	pending, err := c.sessions.PendingBytes(ctx, id)
	if err != nil {
		return err
	}
	processed, err := c.sessions.ProcessedReads(ctx, id)
	if err != nil {
		return err
	}
	speed, err := c.sessions.QueueSpeed(ctx, id)
	if err != nil {
		return err
	}
	return &ChunkTooLargeError{
		ProcessedReads: processed,
		RetryAfter:     float64(cost+pending-c.budget) * speed,
	}
}

func (c *Controller) budgetExceeded(ctx context.Context, id uuid.UUID, cost, pending int64) error {
	processed, err := c.sessions.ProcessedReads(ctx, id)
	if err != nil {
		return err
	}
	speed, err := c.sessions.QueueSpeed(ctx, id)
	if err != nil {
		return err
	}
	return &BudgetExceededError{
		PendingBytes:   pending,
		ProcessedReads: processed,
		RetryAfter:     float64(pending+cost-c.budget) * speed,
	}
}
