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

// Package api implements the request/response transport of the ingest
// server: status, session create, upload, data-request callback and
// close. It shares all admission logic with the message transport.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"swgts/internal/ingest/admission"
	"swgts/internal/ingest/batch"
	"swgts/internal/ingest/session"
	"swgts/internal/ingest/telemetry"
	"swgts/internal/logger"
	"swgts/internal/version"
)

// DataRequester lets the HTTP surface trigger server-initiated data
// requests on the message transport. Implemented by the websocket hub.
type DataRequester interface {
	RequestData(ctx context.Context, id uuid.UUID, bytes int64) error
}

// Server handles the HTTP endpoints of the ingest API.
type Server struct {
	sessions *session.Registry
	ctrl     *admission.Controller
	hub      DataRequester
	handsOff bool
	launched time.Time
}

// NewServer wires the HTTP surface. hub may be nil when the message
// transport is disabled; /context/{id}/request-data then answers 503.
func NewServer(sessions *session.Registry, ctrl *admission.Controller, hub DataRequester, handsOff bool) *Server {
	return &Server{
		sessions: sessions,
		ctrl:     ctrl,
		hub:      hub,
		handsOff: handsOff,
		launched: time.Now(),
	}
}

// RegisterRoutes mounts every endpoint on the router.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/server-status", s.handleServerStatus)
	r.Post("/context/create", s.handleContextCreate)
	r.Post("/context/{contextID}/reads", s.handleContextReads)
	r.Post("/context/{contextID}/close", s.handleContextClose)
	r.Post("/context/{contextID}/request-data", s.handleRequestData)
}

// handleServerStatus reports build identity, uptime and the configured
// buffer size.
func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":       version.Name,
		"version":    version.Version,
		"uptime":     time.Since(s.launched).Seconds(),
		"bufferSize": s.ctrl.Budget(),
	})
}

type createRequest struct {
	Filenames []string `json:"filenames"`
}

type createResponse struct {
	Context string `json:"context"`
}

func (s *Server) handleContextCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "expected json body")
		return
	}
	if req.Filenames == nil {
		writeMessage(w, http.StatusBadRequest, "filenames missing in request")
		return
	}

	id, err := s.sessions.Create(r.Context(), req.Filenames)
	if err != nil {
		var badNames *session.BadFilenamesError
		if errors.As(err, &badNames) {
			writeMessage(w, http.StatusBadRequest, badNames.Msg)
			return
		}
		logger.Error("could not create context", "error", err)
		writeMessage(w, http.StatusInternalServerError, "could not create context")
		return
	}

	telemetry.RecordSessionCreated()
	logger.Info("created context", "context", id)
	writeJSON(w, http.StatusOK, createResponse{Context: id.String()})
}

func (s *Server) handleContextReads(w http.ResponseWriter, r *http.Request) {
	receivedAt := time.Now()

	id, ok := contextID(w, r)
	if !ok {
		return
	}

	var b batch.Batch
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeMessage(w, http.StatusBadRequest, "passed read chunks are not in list format")
		return
	}

	res, err := s.ctrl.Process(r.Context(), id, b, receivedAt)
	if err != nil {
		s.writeUploadError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processedReads": res.ProcessedReads,
		"pendingBytes":   res.PendingBytes,
	})
}

// writeUploadError maps admission failures onto their status codes.
func (s *Server) writeUploadError(w http.ResponseWriter, id uuid.UUID, err error) {
	var (
		shapeErr  *batch.ShapeError
		pairErr   *batch.PairCountError
		largeErr  *admission.ChunkTooLargeError
		budgetErr *admission.BudgetExceededError
	)
	switch {
	case errors.Is(err, session.ErrNoSuchContext):
		writeMessage(w, http.StatusNotFound, "no context with id "+id.String()+" found")
	case errors.As(err, &shapeErr):
		writeMessage(w, http.StatusBadRequest, shapeErr.Msg)
	case errors.As(err, &pairErr):
		writeMessage(w, http.StatusBadRequest, pairErr.Error())
	case errors.As(err, &largeErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{
			"message":        "you sent a chunk that is larger than the configured buffer size",
			"processedReads": largeErr.ProcessedReads,
			"retryAfter":     largeErr.RetryAfter,
		})
	case errors.As(err, &budgetErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"message":        "you sent too much data",
			"pendingBytes":   budgetErr.PendingBytes,
			"processedReads": budgetErr.ProcessedReads,
			"retryAfter":     budgetErr.RetryAfter,
		})
	default:
		logger.Error("upload failed", "context", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, "upload failed")
	}
}

func (s *Server) handleContextClose(w http.ResponseWriter, r *http.Request) {
	id, ok := contextID(w, r)
	if !ok {
		return
	}

	exists, err := s.sessions.Exists(r.Context(), id)
	if err != nil {
		logger.Error("close failed", "context", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, "could not close context")
		return
	}
	if !exists {
		logger.Warn("tried to close non-existent context", "context", id)
		writeMessage(w, http.StatusNotFound, "no such context")
		return
	}

	pending, err := s.sessions.PendingBytes(r.Context(), id)
	if err != nil {
		logger.Error("close failed", "context", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, "could not close context")
		return
	}
	if pending != 0 {
		speed, err := s.sessions.QueueSpeed(r.Context(), id)
		if err != nil {
			logger.Error("close failed", "context", id, "error", err)
			writeMessage(w, http.StatusInternalServerError, "could not close context")
			return
		}
		processed, err := s.sessions.ProcessedReads(r.Context(), id)
		if err != nil {
			logger.Error("close failed", "context", id, "error", err)
			writeMessage(w, http.StatusInternalServerError, "could not close context")
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"message":        "there are still reads pending, try again later",
			"retryAfter":     float64(pending) * speed,
			"processedReads": processed,
			"pendingBytes":   pending,
		})
		return
	}

	result, err := s.sessions.Close(r.Context(), id, s.handsOff)
	if err != nil {
		if errors.Is(err, session.ErrNoSuchContext) {
			writeMessage(w, http.StatusNotFound, "no such context")
			return
		}
		logger.Error("close failed", "context", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, "could not close context")
		return
	}

	telemetry.RecordSessionClosed()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"readsSaved":     result.SavedReadIDs,
		"readsProcessed": result.ProcessedReads,
	})
}

type requestDataRequest struct {
	BytesToRequest *int64 `json:"bytes_to_request"`
}

// handleRequestData lets filter workers solicit more data from the
// session's client over the message transport after draining bytes.
func (s *Server) handleRequestData(w http.ResponseWriter, r *http.Request) {
	id, ok := contextID(w, r)
	if !ok {
		return
	}

	var req requestDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BytesToRequest == nil || *req.BytesToRequest <= 0 {
		writeMessage(w, http.StatusBadRequest, "bytes_to_request missing or not a positive integer")
		return
	}

	exists, err := s.sessions.Exists(r.Context(), id)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "could not request data")
		return
	}
	if !exists {
		writeMessage(w, http.StatusNotFound, "no such context")
		return
	}

	if s.hub == nil {
		writeMessage(w, http.StatusServiceUnavailable, "message transport not enabled")
		return
	}
	if err := s.hub.RequestData(r.Context(), id, *req.BytesToRequest); err != nil {
		logger.Error("data request failed", "context", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, "could not request data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

// contextID parses the route parameter; an unparsable id is
// indistinguishable from an unknown session.
func contextID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "contextID"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, "no such context")
		return uuid.Nil, false
	}
	return id, true
}
