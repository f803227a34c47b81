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

// Package session owns the upload-session lifecycle and its key schema in
// the state store. A session exists exactly while its pair_count key
// exists; every write refreshes the session TTL.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"swgts/internal/ingest/store"
)

// SeedQueueSpeed is the seconds-per-byte estimate used for retry-after
// hints before filter workers have reported any samples.
const SeedQueueSpeed = 9e-6

// ErrNoSuchContext is returned when a session id is unknown or already
// closed.
var ErrNoSuchContext = errors.New("no such context")

// BadFilenamesError rejects a create request with unusable filenames.
type BadFilenamesError struct {
	Msg string
}

func (e *BadFilenamesError) Error() string { return e.Msg }

// BudgetExceededError is returned by TryAdmit when the pending-byte
// budget would be exceeded. Pending carries the counter value observed
// inside the atomic check for the client response.
type BudgetExceededError struct {
	Pending int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded, %d bytes pending", e.Pending)
}

// Registry creates, inspects and closes sessions.
type Registry struct {
	store     *store.Store
	ttl       time.Duration
	uploadDir string
}

// NewRegistry builds a registry over the given store. ttl is the session
// inactivity timeout; uploadDir is the root of the per-session output
// directories written on close.
func NewRegistry(s *store.Store, ttl time.Duration, uploadDir string) *Registry {
	return &Registry{store: s, ttl: ttl, uploadDir: uploadDir}
}

// TTL returns the configured session timeout.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Create allocates a fresh session for the given output filenames and
// returns its id. Only basenames are stored. All keys are written in one
// atomic pipeline with the session TTL; pair_count goes last so Exists
// never observes a half-created session.
func (r *Registry) Create(ctx context.Context, filenames []string) (uuid.UUID, error) {
	if len(filenames) == 0 {
		return uuid.Nil, &BadFilenamesError{Msg: "filenames list is empty"}
	}
	seen := make(map[string]struct{}, len(filenames))
	basenames := make([]string, len(filenames))
	for i, name := range filenames {
		base := filepath.Base(name)
		if base == "" || base == "." || base == string(filepath.Separator) {
			return uuid.Nil, &BadFilenamesError{Msg: fmt.Sprintf("filename %q is not usable", name)}
		}
		if _, dup := seen[base]; dup {
			return uuid.Nil, &BadFilenamesError{Msg: fmt.Sprintf("duplicate filename %q", base)}
		}
		seen[base] = struct{}{}
		basenames[i] = base
	}

	id := uuid.New()
	p := r.store.TxPipeline()
	p.SetInt64TTL(keyPendingBytes(id), 0, r.ttl)
	p.SetInt64TTL(keyProcessedReads(id), 0, r.ttl)
	for i, base := range basenames {
		p.SetStringTTL(keyFilename(id, i), base, r.ttl)
	}
	// pair_count last: its presence is the session's existence signal.
	p.SetInt64TTL(keyPairCount(id), int64(len(basenames)), r.ttl)
	if err := p.Exec(ctx); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Exists reports whether the session is live.
func (r *Registry) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.store.Exists(ctx, keyPairCount(id))
}

// PairCount returns the number of parallel read streams per pair.
func (r *Registry) PairCount(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := r.store.GetInt64(ctx, keyPairCount(id))
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrNoSuchContext
	}
	return n, err
}

// PendingBytes returns the session's pending-byte counter (0 when the
// key is missing).
func (r *Registry) PendingBytes(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := r.store.GetInt64(ctx, keyPendingBytes(id))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	return n, err
}

// ProcessedReads returns the session's processed-read counter (0 when
// the key is missing).
func (r *Registry) ProcessedReads(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := r.store.GetInt64(ctx, keyProcessedReads(id))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	return n, err
}

// SavedReadCount returns how many reads passed filtering so far, counted
// on the first pair stream.
func (r *Registry) SavedReadCount(ctx context.Context, id uuid.UUID) (int64, error) {
	return r.store.SCard(ctx, keyReads(id, 0))
}

// QueueSpeed returns the arithmetic mean of the filter workers' recent
// seconds-per-byte samples, or SeedQueueSpeed when none exist yet.
func (r *Registry) QueueSpeed(ctx context.Context, id uuid.UUID) (float64, error) {
	samples, err := r.store.LRangeFloats(ctx, keySpeed(id))
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return SeedQueueSpeed, nil
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples)), nil
}

// IncrementDroppedBases adds to the global counter of sequence bytes
// discarded for oversize.
func (r *Registry) IncrementDroppedBases(ctx context.Context, n int64) error {
	_, err := r.store.IncrBy(ctx, StatsBasesKey, n)
	return err
}
