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

package batch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsWellFormedBatch(t *testing.T) {
	b := Batch{
		{Read{"id1", "ACGT", "+", "####"}, Read{"id1", "TTTT", "+", "!!!!"}},
		{Read{"id2", "GG", "+", "##"}, Read{"id2", "CC", "+", "##"}},
	}
	require.NoError(t, b.Validate(2))
}

func TestValidate_PairCountMismatch(t *testing.T) {
	b := Batch{{Read{"id", "A", "+", "#"}}}

	err := b.Validate(2)
	var pairErr *PairCountError
	require.ErrorAs(t, err, &pairErr)
	require.Equal(t, 2, pairErr.Want)
	require.Equal(t, 1, pairErr.Got)
}

func TestValidate_ReadWithWrongLineCount(t *testing.T) {
	b := Batch{{Read{"id", "ACGT", "+"}}}

	err := b.Validate(1)
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestBatch_DecodesFromWireShape(t *testing.T) {
	var b Batch
	require.NoError(t, json.Unmarshal([]byte(`[[["id1","ACGT","+","####"]]]`), &b))
	require.Len(t, b, 1)
	require.Equal(t, "ACGT", b[0][0].Sequence())

	// Non-list reads are a decode error, not a panic.
	require.Error(t, json.Unmarshal([]byte(`[["not-a-read"]]`), &b))
}
