/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/wayfarer/internal/telemetry"
)

// ServeWS upgrades the connection and runs the client read loop until the
// socket closes. Compression stays disabled: the traffic is small, frequent
// audio frames where compression only adds latency.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // browser clients connect from any origin
		CompressionMode:    ws.CompressionDisabled,
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Reads stop when the client goes away; writes come from multiple
	// goroutines (read loop, upstream pump, aggregation cycles) and are
	// serialized by the mutex.
	ctx := r.Context()
	var writeMu sync.Mutex
	connectionID := uuid.NewString()

	send := func(ev ServerEvent) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			m.logger.Debug().Err(err).Str("connection_id", connectionID).Msg("websocket write failed")
		}
	}

	telemetry.WebsocketConnections.Inc()
	defer telemetry.WebsocketConnections.Dec()

	sess := m.HandleConnect(connectionID, send)
	defer m.HandleDisconnect(sess)

	for {
		var ev ClientEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			status := ws.CloseStatus(err)
			if status == ws.StatusNormalClosure || status == ws.StatusGoingAway || errors.Is(err, context.Canceled) {
				conn.Close(ws.StatusNormalClosure, "")
			} else {
				m.logger.Debug().Err(err).Str("connection_id", connectionID).Msg("websocket read ended")
			}
			return
		}

		m.dispatchClientEvent(sess, &ev)
	}
}

// dispatchClientEvent routes one inbound message. Unknown types get an
// error event rather than a dropped connection.
func (m *Manager) dispatchClientEvent(sess *Session, ev *ClientEvent) {
	switch ev.Type {
	case EventSetup:
		m.HandleSetup(sess, ev.Setup)
	case EventStart:
		m.HandleStart(sess, ev.Location, ev.Language)
	case EventStop:
		m.HandleStop(sess)
	case EventSessionStatus:
		m.HandleStatus(sess)
	case EventRealtimeInput:
		m.HandleRealtimeInput(sess, ev)
	case EventText:
		m.HandleText(sess, ev.Text)
	default:
		m.logger.Warn().Str("type", ev.Type).Str("session_id", sess.ID).Msg("unknown client event")
		sess.send(errorEvent("Unknown event type: "+ev.Type, ""))
	}
}
