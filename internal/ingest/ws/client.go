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
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"swgts/internal/ingest/admission"
	"swgts/internal/ingest/batch"
	"swgts/internal/ingest/session"
	"swgts/internal/ingest/telemetry"
	"swgts/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds a single inbound frame. Uploads ride inside
	// frames, so this sits well above any sane chunk size.
	maxMessageSize = 64 << 20

	sendQueueDepth = 32
)

// client is one websocket connection and the rooms it joined.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	send      chan []byte
	closeSend sync.Once

	// joined is touched only by the read pump and, after the read pump
	// exits, by drop.
	joined map[uuid.UUID]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendQueueDepth),
		joined: make(map[uuid.UUID]struct{}),
	}
}

// readPump consumes frames until the connection dies, dispatching each
// event. It owns the connection's read side.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.drop(c)
		c.closeSend.Do(func() { close(c.send) })
		c.conn.Close()
		telemetry.ConnectionClosed()
		logger.Info("socket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("socket read failed", "error", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.reply(evDataUploadError, errorPayload{Message: "malformed message envelope"})
			continue
		}

		switch env.Event {
		case evCreateContext:
			c.handleCreateContext(ctx, env.Payload)
		case evDataUpload:
			c.handleDataUpload(ctx, env.Payload)
		case evCloseContext:
			c.handleCloseContext(ctx, env.Payload)
		default:
			logger.Warn("unknown socket event", "event", env.Event)
		}
	}
}

// writePump owns the connection's write side: queued frames plus
// keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends a frame to this client only.
func (c *client) reply(event string, payload interface{}) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		logger.Error("encoding socket event failed", "event", event, "error", err)
		return
	}
	select {
	case c.send <- frame:
	default:
		logger.Warn("dropping frame for slow socket client")
	}
}

// handleCreateContext creates the session, joins its room and fans out
// the initial data requests so the first uploads spread across filter
// workers immediately.
func (c *client) handleCreateContext(ctx context.Context, raw json.RawMessage) {
	var payload createContextPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.reply(evContextCreationError, errorPayload{Message: "expected a filenames list"})
		return
	}

	id, err := c.hub.sessions.Create(ctx, payload.Filenames)
	if err != nil {
		var badNames *session.BadFilenamesError
		if errors.As(err, &badNames) {
			c.reply(evContextCreationError, errorPayload{Message: badNames.Msg})
			return
		}
		logger.Error("could not create context", "error", err)
		c.reply(evContextCreationError, errorPayload{Message: "could not create context"})
		return
	}

	c.hub.join(id, c)
	telemetry.RecordSessionCreated()
	logger.Info("created context over socket", "context", id)

	factor, size := c.hub.requestInfo(ctx)
	var wg sync.WaitGroup
	for i := int64(0); i < factor; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.hub.RequestData(ctx, id, size); err != nil {
				logger.Error("initial data request failed", "context", id, "error", err)
			}
		}()
	}
	wg.Wait()
}

// handleDataUpload runs the shared admission path. Errors surface as
// dataUploadError addressed to the session's room.
func (c *client) handleDataUpload(ctx context.Context, raw json.RawMessage) {
	receivedAt := time.Now()

	var payload dataUploadPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.reply(evDataUploadError, errorPayload{Message: "malformed dataUpload payload"})
		return
	}
	id, err := uuid.Parse(payload.ContextID)
	if err != nil {
		c.reply(evDataUploadError, errorPayload{Message: "contextId is not a valid uuid"})
		return
	}

	if _, err := c.hub.ctrl.Process(ctx, id, payload.Data, receivedAt); err != nil {
		c.hub.emit(id, evDataUploadError, errorPayload{Message: uploadErrorMessage(err)})
	}
}

// uploadErrorMessage flattens admission failures into the message field
// of dataUploadError; the socket has no numeric status equivalent.
func uploadErrorMessage(err error) string {
	var (
		shapeErr  *batch.ShapeError
		pairErr   *batch.PairCountError
		largeErr  *admission.ChunkTooLargeError
		budgetErr *admission.BudgetExceededError
	)
	switch {
	case errors.Is(err, session.ErrNoSuchContext):
		return "no such context"
	case errors.As(err, &shapeErr):
		return shapeErr.Msg
	case errors.As(err, &pairErr):
		return pairErr.Error()
	case errors.As(err, &largeErr):
		return "you sent a chunk that is larger than the configured buffer size"
	case errors.As(err, &budgetErr):
		return budgetErr.Error()
	default:
		logger.Error("socket upload failed", "error", err)
		return "upload failed"
	}
}

// handleCloseContext mirrors the close endpoint: refuse while bytes are
// pending, otherwise flush and report the summary to the room.
func (c *client) handleCloseContext(ctx context.Context, raw json.RawMessage) {
	var payload closeContextPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.reply(evContextCloseError, errorPayload{Message: "malformed closeContext payload"})
		return
	}
	id, err := uuid.Parse(payload.ContextID)
	if err != nil {
		c.reply(evContextCloseError, errorPayload{Message: "contextId is not a valid uuid"})
		return
	}

	exists, err := c.hub.sessions.Exists(ctx, id)
	if err != nil {
		c.reply(evContextCloseError, errorPayload{Message: "could not close context"})
		return
	}
	if !exists {
		c.reply(evContextCloseError, errorPayload{Message: "no such context"})
		return
	}

	pending, err := c.hub.sessions.PendingBytes(ctx, id)
	if err != nil {
		c.reply(evContextCloseError, errorPayload{Message: "could not close context"})
		return
	}
	if pending != 0 {
		c.reply(evContextCloseError, errorPayload{Message: "there are still reads pending, try again later"})
		return
	}

	result, err := c.hub.sessions.Close(ctx, id, c.hub.handsOff)
	if err != nil {
		if errors.Is(err, session.ErrNoSuchContext) {
			c.reply(evContextCloseError, errorPayload{Message: "no such context"})
			return
		}
		logger.Error("socket close failed", "context", id, "error", err)
		c.reply(evContextCloseError, errorPayload{Message: "could not close context"})
		return
	}

	telemetry.RecordSessionClosed()
	c.hub.emit(id, evContextClosed, contextClosedPayload{
		ContextID:      id.String(),
		SavedReads:     result.SavedReadIDs,
		ProcessedReads: result.ProcessedReads,
	})
}
