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

// Package ws implements the bidirectional message transport. One
// long-lived websocket per client is multiplexed onto logical sessions
// through rooms keyed by session id; server-initiated data requests are
// addressed to a session's room.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"swgts/internal/ingest/admission"
	"swgts/internal/ingest/session"
	"swgts/internal/ingest/store"
	"swgts/internal/ingest/telemetry"
	"swgts/internal/logger"
)

// RequestDefaults seed the fan-out when the config:* keys are absent
// from the store (e.g. a worker flushed the database).
type RequestDefaults struct {
	SizeFactor int64
	Size       int64
}

// Hub upgrades connections, tracks rooms and dispatches events.
type Hub struct {
	sessions *session.Registry
	ctrl     *admission.Controller
	store    *store.Store
	defaults RequestDefaults
	handsOff bool
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*client]struct{}
}

// NewHub wires the message transport over the shared admission
// controller and session registry.
func NewHub(sessions *session.Registry, ctrl *admission.Controller, s *store.Store, defaults RequestDefaults, handsOff bool) *Hub {
	return &Hub{
		sessions: sessions,
		ctrl:     ctrl,
		store:    s,
		defaults: defaults,
		handsOff: handsOff,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The HTTP surface is CORS-open; the socket follows suit.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: make(map[uuid.UUID]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection's pumps. It
// returns when the connection dies.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(h, conn)
	telemetry.ConnectionOpened()
	logger.Info("socket connection established", "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump(r.Context())
}

// join adds the client to a session's room.
func (h *Hub) join(id uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[id]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[id] = room
	}
	room[c] = struct{}{}
	c.joined[id] = struct{}{}
}

// drop removes the client from every room it joined. Sessions survive a
// lost client until drained or timed out.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range c.joined {
		if room, ok := h.rooms[id]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, id)
			}
		}
	}
}

// broadcast sends an encoded frame to every client in a session's room.
// An empty room is a no-op. Slow clients have the frame dropped rather
// than stalling the caller.
func (h *Hub) broadcast(id uuid.UUID, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[id] {
		select {
		case c.send <- frame:
		default:
			logger.Warn("dropping frame for slow socket client", "context", id)
		}
	}
}

// emit marshals and broadcasts one event to a session's room.
func (h *Hub) emit(id uuid.UUID, event string, payload interface{}) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		logger.Error("encoding socket event failed", "event", event, "error", err)
		return
	}
	h.broadcast(id, frame)
}

// RequestData emits a dataRequest carrying the current back-pressure
// state to the session's room. Filter workers call this through the
// request-data endpoint after draining pending bytes.
func (h *Hub) RequestData(ctx context.Context, id uuid.UUID, bytes int64) error {
	pending, err := h.sessions.PendingBytes(ctx, id)
	if err != nil {
		return err
	}
	processed, err := h.sessions.ProcessedReads(ctx, id)
	if err != nil {
		return err
	}
	h.emit(id, evDataRequest, dataRequestPayload{
		Bytes:          bytes,
		ContextID:      id.String(),
		BufferFill:     pending,
		ProcessedReads: processed,
	})
	return nil
}

// requestInfo reads the configured data-request fan-out from the store,
// falling back to the bootstrap defaults when the keys are missing.
func (h *Hub) requestInfo(ctx context.Context) (factor, size int64) {
	factor, size = h.defaults.SizeFactor, h.defaults.Size
	if v, err := h.store.GetInt64(ctx, "config:request_size_factor"); err == nil {
		factor = v
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("reading request_size_factor failed", "error", err)
	}
	if v, err := h.store.GetInt64(ctx, "config:request_size"); err == nil {
		size = v
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("reading request_size failed", "error", err)
	}
	return factor, size
}
