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

// Package store is the typed façade over the shared Redis state backend.
//
// Every state mutation elsewhere in the ingest server goes through this
// package: counters with TTL, sets, lists, Lua evaluation and atomic
// pipelines. The adapter does not retry; a failed call surfaces
// ErrUnavailable and the policy lives in the caller.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrUnavailable marks any store failure that is not a plain missing key.
var ErrUnavailable = errors.New("state store unavailable")

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("key not found")

// Store wraps a go-redis client with the operation surface the ingest
// server needs. The zero value is not usable; construct with New.
type Store struct {
	rdb *redis.Client
}

// New connects to the Redis host named by addr. A bare hostname gets the
// default port appended. The connection is lazy; call Ping to verify
// reachability.
func New(addr string) *Store {
	if !strings.Contains(addr, ":") {
		addr += ":6379"
	}
	return &Store{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewFromClient wraps an existing client. Used by tests running against
// miniredis.
func NewFromClient(c *redis.Client) *Store {
	return &Store{rdb: c}
}

// Ping verifies the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.rdb.Ping(ctx).Err())
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// GetInt64 reads an integer key. Missing keys return ErrNotFound.
func (s *Store) GetInt64(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, key).Int64()
	if err != nil {
		return 0, wrap("get "+key, err)
	}
	return v, nil
}

// GetString reads a string key. Missing keys return ErrNotFound.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", wrap("get "+key, err)
	}
	return v, nil
}

// GetDelInt64 atomically reads and deletes an integer key.
func (s *Store) GetDelInt64(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.GetDel(ctx, key).Result()
	if err != nil {
		return 0, wrap("getdel "+key, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("getdel %s: non-integer value %q", key, v)
	}
	return n, nil
}

// GetDelString atomically reads and deletes a string key.
func (s *Store) GetDelString(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.GetDel(ctx, key).Result()
	if err != nil {
		return "", wrap("getdel "+key, err)
	}
	return v, nil
}

// SetInt64TTL writes an integer key with the given TTL.
func (s *Store) SetInt64TTL(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return wrap("setex "+key, s.rdb.Set(ctx, key, value, ttl).Err())
}

// SetString writes a string key without TTL.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	return wrap("set "+key, s.rdb.Set(ctx, key, value, 0).Err())
}

// SetInt64 writes an integer key without TTL.
func (s *Store) SetInt64(ctx context.Context, key string, value int64) error {
	return wrap("set "+key, s.rdb.Set(ctx, key, value, 0).Err())
}

// IncrBy atomically adds delta to an integer key, creating it at zero.
func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := s.rdb.IncrBy(ctx, key, delta).Result()
	return v, wrap("incrby "+key, err)
}

// Expire refreshes the TTL of a key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("expire "+key, s.rdb.Expire(ctx, key, ttl).Err())
}

// Delete removes keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return wrap("del", s.rdb.Del(ctx, keys...).Err())
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("exists "+key, err)
	}
	return n == 1, nil
}

// SAdd adds members to a set.
func (s *Store) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return wrap("sadd "+key, s.rdb.SAdd(ctx, key, members...).Err())
}

// SMembers returns all members of a set. A missing key yields an empty
// slice, matching Redis semantics.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := s.rdb.SMembers(ctx, key).Result()
	return v, wrap("smembers "+key, err)
}

// SCard returns the cardinality of a set (0 when missing).
func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.SCard(ctx, key).Result()
	return v, wrap("scard "+key, err)
}

// RPush appends values to a list.
func (s *Store) RPush(ctx context.Context, key string, values ...interface{}) error {
	return wrap("rpush "+key, s.rdb.RPush(ctx, key, values...).Err())
}

// LRangeFloats reads a whole list of float samples. A missing key yields
// an empty slice.
func (s *Store) LRangeFloats(ctx context.Context, key string) ([]float64, error) {
	raw, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, wrap("lrange "+key, err)
	}
	out := make([]float64, 0, len(raw))
	for _, r := range raw {
		f, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return nil, fmt.Errorf("lrange %s: non-float element %q", key, r)
		}
		out = append(out, f)
	}
	return out, nil
}

// Eval runs a Lua script against the backend. Callers own the script
// text; the adapter only transports it.
func (s *Store) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	v, err := s.rdb.Eval(ctx, script, keys, args...).Result()
	return v, wrap("eval", err)
}

// TxPipeline starts an atomic multi-operation transaction. Queue
// operations on the returned Pipe, then commit with Exec.
func (s *Store) TxPipeline() *Pipe {
	return &Pipe{p: s.rdb.TxPipeline()}
}

// Pipe queues operations for one MULTI/EXEC commit.
type Pipe struct {
	p redis.Pipeliner
}

// SetInt64TTL queues an integer write with TTL.
func (p *Pipe) SetInt64TTL(key string, value int64, ttl time.Duration) {
	p.p.Set(context.Background(), key, value, ttl)
}

// SetStringTTL queues a string write with TTL.
func (p *Pipe) SetStringTTL(key, value string, ttl time.Duration) {
	p.p.Set(context.Background(), key, value, ttl)
}

// RPush queues a list append.
func (p *Pipe) RPush(key string, values ...interface{}) {
	p.p.RPush(context.Background(), key, values...)
}

// Delete queues a key removal.
func (p *Pipe) Delete(keys ...string) {
	p.p.Del(context.Background(), keys...)
}

// Exec commits every queued operation atomically.
func (p *Pipe) Exec(ctx context.Context) error {
	_, err := p.p.Exec(ctx)
	return wrap("pipeline exec", err)
}

// wrap classifies client errors: redis.Nil becomes ErrNotFound, anything
// else is an availability failure for the caller to surface.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
}
