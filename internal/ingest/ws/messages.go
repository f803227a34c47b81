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

package ws

import (
	"encoding/json"

	"swgts/internal/ingest/batch"
)

// Client→server event names.
const (
	evCreateContext = "createContext"
	evDataUpload    = "dataUpload"
	evCloseContext  = "closeContext"
)

// Server→client event names.
const (
	evDataRequest          = "dataRequest"
	evContextCreationError = "contextCreationError"
	evContextCloseError    = "contextCloseError"
	evContextClosed        = "contextClosed"
	evDataUploadError      = "dataUploadError"
)

// envelope is the wire frame of every message in both directions.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type createContextPayload struct {
	Filenames []string `json:"filenames"`
}

type dataUploadPayload struct {
	Data      batch.Batch `json:"data"`
	Bytes     int64       `json:"bytes"`
	ContextID string      `json:"contextId"`
}

type closeContextPayload struct {
	ContextID string `json:"contextId"`
}

type dataRequestPayload struct {
	Bytes          int64  `json:"bytes"`
	ContextID      string `json:"contextId"`
	BufferFill     int64  `json:"bufferFill"`
	ProcessedReads int64  `json:"processedReads"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type contextClosedPayload struct {
	ContextID      string   `json:"contextId"`
	SavedReads     []string `json:"savedReads"`
	ProcessedReads int64    `json:"processedReads"`
}

// encodeEvent marshals an outbound frame. Marshalling only fails for
// unsupported types, which would be a programming error here.
func encodeEvent(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Payload: raw})
}
