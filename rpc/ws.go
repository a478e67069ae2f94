package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"marketd/core/events"
	"marketd/observability"
)

const wsWriteTimeout = 10 * time.Second

// streamEventPayload is the wire shape of a marketplace event pushed over the
// websocket feed. The cursor lets clients resume after a reconnect.
type streamEventPayload struct {
	Cursor     string            `json:"cursor"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.stream == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	metrics := observability.EventStream()
	metrics.SubscriberConnected(true)
	defer metrics.SubscriberConnected(false)

	if err := s.streamEvents(r.Context(), conn, cursor, metrics); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string, metrics *observability.EventStreamMetrics) error {
	updates, cancel, backlog := s.stream.Subscribe(cursor)
	defer cancel()

	for _, evt := range backlog {
		if err := writeStreamEvent(ctx, conn, evt); err != nil {
			return err
		}
		metrics.RecordDelivery()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStreamEvent(ctx, conn, evt); err != nil {
				return err
			}
			metrics.RecordDelivery()
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt events.StreamEvent) error {
	payload := streamEventPayload{
		Cursor:     evt.Cursor,
		Sequence:   evt.Sequence,
		Type:       evt.Event.Type,
		Attributes: evt.Event.Attributes,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
