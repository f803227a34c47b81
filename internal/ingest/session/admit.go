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

	"github.com/google/uuid"
)

// admitScript applies an upload admission in one atomic step. It
// re-checks session existence (so uploads racing a close fail cleanly),
// compares the pending counter against the budget, applies both counter
// increments and refreshes the session TTL.
//
// Reply: {status, pending, processed} where status is 0 (applied),
// -1 (budget exceeded, pending carries the current counter) or
// -2 (no such context).
const admitScript = `
local pairCountKey = KEYS[1]
local pendingKey = KEYS[2]
local processedKey = KEYS[3]
local cost = tonumber(ARGV[1])
local processedDelta = tonumber(ARGV[2])
local budget = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
if redis.call('EXISTS', pairCountKey) == 0 then
  return {-2, 0, 0}
end
local pending = tonumber(redis.call('GET', pendingKey) or '0')
if pending + cost > budget then
  return {-1, pending, 0}
end
local newPending = redis.call('INCRBY', pendingKey, cost)
local processed = redis.call('INCRBY', processedKey, processedDelta)
redis.call('EXPIRE', pairCountKey, ttl)
redis.call('EXPIRE', pendingKey, ttl)
redis.call('EXPIRE', processedKey, ttl)
return {0, newPending, processed}
`

// TryAdmit atomically admits an upload of the given effective cost
// against the budget, also counting processedDelta pairs that were
// dropped for oversize. On success it returns the new pending and
// processed counters. Failure modes: ErrNoSuchContext when the session
// vanished, BudgetExceededError when the budget check failed.
func (r *Registry) TryAdmit(ctx context.Context, id uuid.UUID, cost, processedDelta, budget int64) (pending, processed int64, err error) {
	keys := []string{keyPairCount(id), keyPendingBytes(id), keyProcessedReads(id)}
	args := []interface{}{cost, processedDelta, budget, int64(r.ttl.Seconds())}
	raw, err := r.store.Eval(ctx, admitScript, keys, args...)
	if err != nil {
		return 0, 0, err
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return 0, 0, fmt.Errorf("admit script: unexpected reply %v", raw)
	}
	status, s0 := reply[0].(int64)
	pending, s1 := reply[1].(int64)
	processed, s2 := reply[2].(int64)
	if !s0 || !s1 || !s2 {
		return 0, 0, fmt.Errorf("admit script: non-integer reply %v", raw)
	}
	switch status {
	case 0:
		return pending, processed, nil
	case -1:
		return 0, 0, &BudgetExceededError{Pending: pending}
	case -2:
		return 0, 0, ErrNoSuchContext
	default:
		return 0, 0, fmt.Errorf("admit script: unknown status %d", status)
	}
}
