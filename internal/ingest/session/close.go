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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"swgts/internal/ingest/store"
	"swgts/internal/logger"
)

// CloseResult is the outcome of a successful close.
type CloseResult struct {
	// ProcessedReads is the session's final processed-read counter.
	ProcessedReads int64

	// SavedReadIDs are the identifier lines of every read that passed
	// filtering, taken from the first pair stream.
	SavedReadIDs []string
}

// Close drains a session out of the store and, unless handsOff is set,
// materialises the filtered reads into one file per pair stream under
// <uploadDir>/<id>/.
//
// pair_count is deleted first: from that point the session no longer
// exists for uploads and close owns the remaining keys. File write
// failures are logged and skipped; the session is fully deleted from the
// store regardless.
func (r *Registry) Close(ctx context.Context, id uuid.UUID, handsOff bool) (CloseResult, error) {
	start := time.Now()
	logger.Info("closing context", "context", id)

	pairCount, err := r.store.GetDelInt64(ctx, keyPairCount(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CloseResult{}, ErrNoSuchContext
		}
		return CloseResult{}, err
	}

	firstPair, err := r.store.SMembers(ctx, keyReads(id, 0))
	if err != nil {
		return CloseResult{}, err
	}
	savedIDs := make([]string, 0, len(firstPair))
	for _, read := range firstPair {
		identifier, _, _ := strings.Cut(read, "\n")
		savedIDs = append(savedIDs, identifier)
	}

	outputDir := filepath.Join(r.uploadDir, id.String())
	madeDir := false
	for i := 0; i < int(pairCount); i++ {
		filename, err := r.store.GetDelString(ctx, keyFilename(id, i))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return CloseResult{}, err
		}

		if !handsOff && filename != "" {
			if !madeDir {
				if err := os.MkdirAll(outputDir, 0o755); err != nil {
					logger.Error("creating context output directory failed", "context", id, "dir", outputDir, "error", err)
					handsOff = true // no directory, no files; still drain the store
				} else {
					madeDir = true
				}
			}
			if madeDir {
				r.writePairFile(ctx, id, i, filepath.Join(outputDir, filename))
			}
		}

		if err := r.store.Delete(ctx, keyReads(id, i)); err != nil {
			return CloseResult{}, err
		}
	}

	processed, err := r.store.GetDelInt64(ctx, keyProcessedReads(id))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return CloseResult{}, err
	}
	if err := r.store.Delete(ctx, keyPendingBytes(id), keySpeed(id)); err != nil {
		return CloseResult{}, err
	}

	logger.Info("closed context",
		"context", id,
		"saved", len(savedIDs),
		"processed", processed,
		"duration", time.Since(start).String(),
	)
	return CloseResult{ProcessedReads: processed, SavedReadIDs: savedIDs}, nil
}

// writePairFile writes the set members of one pair stream joined by
// newlines. I/O failures are logged only: the remaining pairs are still
// attempted and the session is still deleted.
func (r *Registry) writePairFile(ctx context.Context, id uuid.UUID, pairIndex int, path string) {
	reads, err := r.store.SMembers(ctx, keyReads(id, pairIndex))
	if err != nil {
		logger.Error("reading filtered reads failed", "context", id, "pair", pairIndex, "error", err)
		return
	}
	if err := os.WriteFile(path, []byte(strings.Join(reads, "\n")), 0o644); err != nil {
		logger.Error("writing output file failed", "context", id, "path", path, "error", err)
		return
	}
	logger.Info("wrote output file", "context", id, "path", path, "reads", len(reads))
}
