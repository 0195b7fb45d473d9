/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/skaldworks/muninn_playout/internal/events"
	"github.com/skaldworks/muninn_playout/internal/telemetry"
	ws "nhooyr.io/websocket"
)

// handleEvents streams playout events over a WebSocket. Clients may
// filter with ?types=schedule_started,playback_progress; with no filter
// all events are delivered.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.EventSubscribers.Inc()
	defer telemetry.EventSubscribers.Dec()

	filter := parseEventTypes(r.URL.Query().Get("types"))

	// The bus delivers synchronously; buffer generously so a slow client
	// drops events instead of stalling the engine.
	feed := make(chan events.Event, 256)
	unsubscribe := a.bus.Subscribe(func(event events.Event) {
		if len(filter) > 0 {
			if _, ok := filter[event.Name]; !ok {
				return
			}
		}
		select {
		case feed <- event:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		case event := <-feed:
			if err := a.writeEvent(ctx, conn, event); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, event events.Event) error {
	data := map[string]any{
		"type":    event.Name,
		"payload": event,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

func parseEventTypes(raw string) map[events.EventType]struct{} {
	if raw == "" {
		return nil
	}
	filter := make(map[events.EventType]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			filter[events.EventType(part)] = struct{}{}
		}
	}
	return filter
}
