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
	"fmt"

	"github.com/google/uuid"
)

// Key schema owned by the registry. Filter workers and this server agree
// on these names; changing them is a wire-protocol change.

func keyPairCount(id uuid.UUID) string {
	return fmt.Sprintf("context:%s:pair_count", id)
}

func keyPendingBytes(id uuid.UUID) string {
	return fmt.Sprintf("context:%s:pending_bytes", id)
}

func keyProcessedReads(id uuid.UUID) string {
	return fmt.Sprintf("context:%s:processed_reads", id)
}

func keySpeed(id uuid.UUID) string {
	return fmt.Sprintf("context:%s:speed", id)
}

func keyFilename(id uuid.UUID, pairIndex int) string {
	return fmt.Sprintf("context:%s:pair:%d:filename", id, pairIndex)
}

func keyReads(id uuid.UUID, pairIndex int) string {
	return fmt.Sprintf("context:%s:pair:%d:reads", id, pairIndex)
}

// StatsBasesKey is the global monotone counter of sequence bytes dropped
// for oversize.
const StatsBasesKey = "stats:bases"
