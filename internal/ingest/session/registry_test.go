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

package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"swgts/internal/ingest/store"
)

func newTestRegistry(t *testing.T, uploadDir string) (*Registry, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	if uploadDir == "" {
		uploadDir = t.TempDir()
	}
	return NewRegistry(store.NewFromClient(rdb), 5*time.Minute, uploadDir), rdb
}

func TestRegistry_CreateSetsAllKeysWithTTL(t *testing.T) {
	r, rdb := newTestRegistry(t, "")
	ctx := context.Background()

	id, err := r.Create(ctx, []string{"/some/dir/a.fq", "b.fq"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	keys := []string{
		fmt.Sprintf("context:%s:pair_count", id),
		fmt.Sprintf("context:%s:pending_bytes", id),
		fmt.Sprintf("context:%s:processed_reads", id),
		fmt.Sprintf("context:%s:pair:0:filename", id),
		fmt.Sprintf("context:%s:pair:1:filename", id),
	}
	for _, key := range keys {
		ttl, err := rdb.TTL(ctx, key).Result()
		require.NoError(t, err, key)
		require.Greater(t, ttl, time.Duration(0), key)
	}

	// Only basenames are stored.
	require.Equal(t, "a.fq", rdb.Get(ctx, fmt.Sprintf("context:%s:pair:0:filename", id)).Val())

	count, err := r.PairCount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	exists, err := r.Exists(ctx, id)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestRegistry_CreateRejectsBadFilenames(t *testing.T) {
	r, _ := newTestRegistry(t, "")
	ctx := context.Background()

	_, err := r.Create(ctx, nil)
	var badNames *BadFilenamesError
	require.ErrorAs(t, err, &badNames)

	_, err = r.Create(ctx, []string{"a.fq", "sub/a.fq"})
	require.ErrorAs(t, err, &badNames, "duplicate basenames must be rejected")
}

func TestRegistry_CountersDefaultToZero(t *testing.T) {
	r, _ := newTestRegistry(t, "")
	ctx := context.Background()

	id := uuid.New()

	pending, err := r.PendingBytes(ctx, id)
	require.NoError(t, err)
	require.Zero(t, pending)

	processed, err := r.ProcessedReads(ctx, id)
	require.NoError(t, err)
	require.Zero(t, processed)

	_, err = r.PairCount(ctx, id)
	require.ErrorIs(t, err, ErrNoSuchContext)
}

func TestRegistry_QueueSpeed(t *testing.T) {
	r, rdb := newTestRegistry(t, "")
	ctx := context.Background()

	id, err := r.Create(ctx, []string{"a.fq"})
	require.NoError(t, err)

	// No samples yet: the seed constant.
	speed, err := r.QueueSpeed(ctx, id)
	require.NoError(t, err)
	require.Equal(t, SeedQueueSpeed, speed)

	require.NoError(t, rdb.RPush(ctx, fmt.Sprintf("context:%s:speed", id), "0.25", "0.75").Err())

	speed, err = r.QueueSpeed(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0.5, speed)
}

func TestRegistry_TryAdmit(t *testing.T) {
	r, rdb := newTestRegistry(t, "")
	ctx := context.Background()
	const budget = 100

	id, err := r.Create(ctx, []string{"a.fq"})
	require.NoError(t, err)

	pending, processed, err := r.TryAdmit(ctx, id, 40, 2, budget)
	require.NoError(t, err)
	require.Equal(t, int64(40), pending)
	require.Equal(t, int64(2), processed)

	// A second admission fills the budget exactly.
	pending, processed, err = r.TryAdmit(ctx, id, 60, 0, budget)
	require.NoError(t, err)
	require.Equal(t, int64(100), pending)
	require.Equal(t, int64(2), processed)

	// The next byte does not fit; counters must be untouched.
	_, _, err = r.TryAdmit(ctx, id, 1, 0, budget)
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	require.Equal(t, int64(100), budgetErr.Pending)
	require.Equal(t, "100", rdb.Get(ctx, fmt.Sprintf("context:%s:pending_bytes", id)).Val())

	// TTL was refreshed by the successful admissions.
	ttl, err := rdb.TTL(ctx, fmt.Sprintf("context:%s:pending_bytes", id)).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestRegistry_TryAdmitUnknownContext(t *testing.T) {
	r, _ := newTestRegistry(t, "")

	_, _, err := r.TryAdmit(context.Background(), uuid.New(), 10, 0, 100)
	require.ErrorIs(t, err, ErrNoSuchContext)
}

func TestRegistry_IncrementDroppedBases(t *testing.T) {
	r, rdb := newTestRegistry(t, "")
	ctx := context.Background()

	require.NoError(t, r.IncrementDroppedBases(ctx, 7))
	require.NoError(t, r.IncrementDroppedBases(ctx, 3))
	require.Equal(t, "10", rdb.Get(ctx, StatsBasesKey).Val())
}
