package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/narvanalabs/conflux-builder/internal/events"
	"github.com/narvanalabs/conflux-builder/internal/models"
)

const (
	streamPingInterval = 15 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscribe loads a build and subscribes to its events. The subscription
// is taken before the snapshot so no transition in between is lost.
func (h *BuildHandler) subscribe(ctx context.Context, buildID string) (*models.BuildRecord, *events.Subscriber, error) {
	sub := h.broker.Subscribe(buildID)
	rec, err := h.builds.Get(ctx, buildID)
	if err != nil {
		h.broker.Unsubscribe(sub)
		return nil, nil, err
	}
	return rec, sub, nil
}

// Events handles GET /v1/builds/{buildID}/events - streams status changes via SSE.
// The stream ends once the build reaches a final state.
func (h *BuildHandler) Events(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	rec, sub, err := h.subscribe(r.Context(), buildID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "stream build")
		return
	}
	defer h.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	h.sendEvent(w, "status", events.FromRecord(rec, ""))
	if !rec.Status.IsActive() {
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("build stream closed by client", "build_id", buildID)
			return
		case <-ping.C:
			h.sendEvent(w, "ping", map[string]int64{"time": time.Now().Unix()})
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			h.sendEvent(w, "status", ev)
			if !ev.Status.IsActive() {
				return
			}
		}
	}
}

// sendEvent sends a Server-Sent Event.
func (h *BuildHandler) sendEvent(w http.ResponseWriter, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal event data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Watch handles GET /v1/builds/{buildID}/watch - streams status changes over
// a WebSocket. The server closes the socket once the build reaches a final state.
func (h *BuildHandler) Watch(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	rec, sub, err := h.subscribe(r.Context(), buildID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "watch build")
		return
	}
	defer h.broker.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "error", err, "build_id", buildID)
		return
	}
	defer conn.Close()

	// The read loop only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeWS(conn, events.FromRecord(rec, "")); err != nil || !rec.Status.IsActive() {
		closeWS(conn, "build finished")
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			h.logger.Debug("build watch closed by client", "build_id", buildID)
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			if err := writeWS(conn, ev); err != nil {
				return
			}
			if !ev.Status.IsActive() {
				closeWS(conn, "build finished")
				return
			}
		}
	}
}

func writeWS(conn *websocket.Conn, ev *events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}

func closeWS(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}
