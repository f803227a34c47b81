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

// Package batch defines the wire shape of an upload and its structural
// validation. A batch is an ordered sequence of pairs; a pair holds one
// read per parallel input stream; a read is the fixed 4-line record
// (identifier, sequence, separator, qualities).
package batch

import "fmt"

// LinesPerRead is the fixed record length of a read.
const LinesPerRead = 4

// Read is one 4-line record. Index 1 is the sequence line, the only line
// that contributes to byte accounting.
type Read []string

// Sequence returns the sequence line.
func (r Read) Sequence() string { return r[1] }

// Pair groups one read per parallel input stream.
type Pair []Read

// Batch is the unit of upload: an ordered sequence of pairs.
type Batch []Pair

// ShapeError reports a structural violation in an uploaded batch. Shape
// errors are terminal for the request; the server never retries them.
type ShapeError struct {
	Msg string
}

func (e *ShapeError) Error() string { return e.Msg }

// PairCountError reports a pair whose read count does not match the
// session's pair count.
type PairCountError struct {
	Want int
	Got  int
}

func (e *PairCountError) Error() string {
	return fmt.Sprintf("expected %d-paired reads but found pair with %d reads", e.Want, e.Got)
}

// Validate checks the batch structure against the session's pair count.
// It fails fast on the first violation.
func (b Batch) Validate(pairCount int) error {
	for _, pair := range b {
		if len(pair) != pairCount {
			return &PairCountError{Want: pairCount, Got: len(pair)}
		}
		for _, read := range pair {
			if len(read) != LinesPerRead {
				return &ShapeError{Msg: fmt.Sprintf("there is a read with a length != %d", LinesPerRead)}
			}
		}
	}
	return nil
}
