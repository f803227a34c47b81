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

package admission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"swgts/internal/ingest/batch"
	"swgts/internal/ingest/queue"
	"swgts/internal/ingest/session"
	"swgts/internal/ingest/store"
)

type fixture struct {
	ctrl     *Controller
	sessions *session.Registry
	rdb      *redis.Client
}

func newFixture(t *testing.T, budget int64) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := store.NewFromClient(rdb)
	sessions := session.NewRegistry(st, 5*time.Minute, t.TempDir())
	publisher := queue.NewPublisher(st)
	return &fixture{
		ctrl:     NewController(sessions, publisher, budget),
		sessions: sessions,
		rdb:      rdb,
	}
}

func (f *fixture) createSession(t *testing.T, filenames ...string) uuid.UUID {
	t.Helper()
	id, err := f.sessions.Create(context.Background(), filenames)
	require.NoError(t, err)
	return id
}

func read(id, seq string) batch.Read {
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = '#'
	}
	return batch.Read{id, seq, "+", string(qual)}
}

func TestProcess_AcceptsAndEnqueues(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	id := f.createSession(t, "a.fq")

	res, err := f.ctrl.Process(ctx, id, batch.Batch{{read("id1", "ACGT")}}, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(4), res.PendingBytes)
	require.Zero(t, res.ProcessedReads)

	queued, err := f.rdb.LRange(ctx, queue.QueueKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 1)
}

func TestProcess_UnknownContext(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.ctrl.Process(context.Background(), uuid.New(), batch.Batch{}, time.Now())
	require.ErrorIs(t, err, session.ErrNoSuchContext)
}

func TestProcess_PairCountMismatch(t *testing.T) {
	f := newFixture(t, 100)
	id := f.createSession(t, "a.fq", "b.fq")

	_, err := f.ctrl.Process(context.Background(), id, batch.Batch{{read("id", "A")}}, time.Now())
	var pairErr *batch.PairCountError
	require.ErrorAs(t, err, &pairErr)
}

func TestProcess_BadShape(t *testing.T) {
	f := newFixture(t, 100)
	id := f.createSession(t, "a.fq")

	_, err := f.ctrl.Process(context.Background(), id, batch.Batch{{batch.Read{"id", "A", "+"}}}, time.Now())
	var shapeErr *batch.ShapeError
	require.ErrorAs(t, err, &shapeErr)
}

// An oversize read drops its whole pair: the pair is counted as
// processed, its bases land in stats:bases and nothing is enqueued.
func TestProcess_OversizeReadDropsPair(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	id := f.createSession(t, "a.fq")

	res, err := f.ctrl.Process(ctx, id, batch.Batch{{read("id", "ACGT")}}, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), res.ProcessedReads)
	require.Zero(t, res.PendingBytes)

	require.Equal(t, "4", f.rdb.Get(ctx, session.StatsBasesKey).Val())

	length, err := f.rdb.LLen(ctx, queue.QueueKey).Result()
	require.NoError(t, err)
	require.Zero(t, length, "no job may be enqueued")
}

// A read of exactly the budget length on an empty session is accepted.
func TestProcess_ReadAtExactBudgetBoundary(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	id := f.createSession(t, "a.fq")

	res, err := f.ctrl.Process(ctx, id, batch.Batch{{read("id", "ACGT")}}, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(4), res.PendingBytes)
	require.Zero(t, res.ProcessedReads)
}

func TestProcess_BudgetExceeded(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.createSession(t, "a.fq")

	// Fill the session to 7 pending bytes.
	_, err := f.ctrl.Process(ctx, id, batch.Batch{{read("id1", "AAAAAAA")}}, time.Now())
	require.NoError(t, err)

	_, err = f.ctrl.Process(ctx, id, batch.Batch{{read("id2", "CCCCC")}}, time.Now())
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	require.Equal(t, int64(7), budgetErr.PendingBytes)
	require.Zero(t, budgetErr.ProcessedReads)
	require.InDelta(t, 2*session.SeedQueueSpeed, budgetErr.RetryAfter, 1e-12)

	// Store state unchanged by the rejection.
	require.Equal(t, "7", f.rdb.Get(ctx, fmt.Sprintf("context:%s:pending_bytes", id)).Val())
	length, err := f.rdb.LLen(ctx, queue.QueueKey).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), length)
}

// A batch whose accepted cost alone exceeds the budget can never be
// admitted, no matter how drained the session is.
func TestProcess_ChunkTooLarge(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.createSession(t, "a.fq")

	// Two reads of 8 bytes each fit the per-read cap but sum to 16.
	b := batch.Batch{{read("id1", "AAAAAAAA")}, {read("id2", "CCCCCCCC")}}
	_, err := f.ctrl.Process(ctx, id, b, time.Now())
	var largeErr *ChunkTooLargeError
	require.ErrorAs(t, err, &largeErr)
	require.Zero(t, largeErr.ProcessedReads)
	require.InDelta(t, 6*session.SeedQueueSpeed, largeErr.RetryAfter, 1e-12)

	require.Equal(t, "0", f.rdb.Get(ctx, fmt.Sprintf("context:%s:pending_bytes", id)).Val())
}

// Concurrent uploads cannot jointly overshoot: the budget check and the
// increment are one atomic script.
func TestProcess_ConcurrentUploadsRespectBudget(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.createSession(t, "a.fq")

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			_, err := f.ctrl.Process(ctx, id, batch.Batch{{read(fmt.Sprintf("id%d", i), "AAAAAAA")}}, time.Now())
			results <- err
		}(i)
	}

	var failures int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			var budgetErr *BudgetExceededError
			require.ErrorAs(t, err, &budgetErr)
			failures++
		}
	}
	require.Equal(t, 1, failures, "exactly one of the two 7-byte uploads fits a 10-byte budget")
	require.Equal(t, "7", f.rdb.Get(ctx, fmt.Sprintf("context:%s:pending_bytes", id)).Val())
}

// Mixed batch: the oversize pair is dropped and counted, the valid pair
// is admitted and enqueued.
func TestProcess_MixedBatch(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.createSession(t, "a.fq")

	b := batch.Batch{
		{read("id1", "ACGT")},
		{read("id2", "AAAAAAAAAAAA")}, // 12 bases, over the cap
	}
	res, err := f.ctrl.Process(ctx, id, b, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(4), res.PendingBytes)
	require.Equal(t, int64(1), res.ProcessedReads)

	require.Equal(t, "12", f.rdb.Get(ctx, session.StatsBasesKey).Val())

	queued, err := f.rdb.LRange(ctx, queue.QueueKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	jobID, err := uuid.Parse(queued[0])
	require.NoError(t, err)
	record, err := f.rdb.LRange(ctx, queue.JobKey(jobID), 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, "1", record[2], "only the accepted pair rides the job")
}
