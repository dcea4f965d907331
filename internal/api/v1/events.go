package v1

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/connectivity"
	"github.com/stacklok/offline-sync/internal/sync/orchestrator"
)

// Event stream sources
const (
	SourceStatus       = "status"
	SourceEngine       = "engine"
	SourceConflict     = "conflict"
	SourceConnectivity = "connectivity"
)

const (
	streamBufferSize   = 64
	streamWriteTimeout = 5 * time.Second
)

// StreamMessage is one JSON frame on the /api/v1/events websocket
type StreamMessage struct {
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// streamEvents handles GET /api/v1/events
//
// @Summary		Live engine events
// @Description	Websocket stream. The first frame is the current status, followed by
// @Description	orchestrator, conflict and connectivity events as they happen.
// @Description	Slow readers lose frames. Cross-origin clients need an allowed origin pattern.
// @Tags			events
// @Success		101
// @Router			/api/v1/events [get]
func (routes *Routes) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: routes.originPatterns,
	})
	if err != nil {
		slog.WarnContext(r.Context(), "Websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// Clients never send; CloseRead handles control frames and cancels ctx on disconnect
	ctx := conn.CloseRead(r.Context())

	frames := make(chan StreamMessage, streamBufferSize)
	send := func(msg StreamMessage) {
		select {
		case frames <- msg:
		default:
			slog.Warn("Event stream client is too slow, dropping frame", "source", msg.Source, "type", msg.Type)
		}
	}

	unsubscribeEngine := routes.orch.Subscribe(func(e orchestrator.Event) {
		send(StreamMessage{Source: SourceEngine, Type: string(e.Type), Data: e, Timestamp: e.Timestamp})
	})
	defer unsubscribeEngine()

	unsubscribeConflicts := routes.conflicts.Subscribe(func(e conflict.Event) {
		send(StreamMessage{Source: SourceConflict, Type: string(e.Type), Data: e.Record, Timestamp: time.Now().UTC()})
	})
	defer unsubscribeConflicts()

	if routes.connectivity != nil {
		unsubscribeConnectivity := routes.connectivity.Subscribe(func(e connectivity.Event) {
			send(StreamMessage{Source: SourceConnectivity, Type: string(e.Type), Data: e.Status, Timestamp: time.Now().UTC()})
		})
		defer unsubscribeConnectivity()
	}

	st, err := routes.orch.GetStatus(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read status for event stream", "error", err)
	} else if err := writeFrame(ctx, conn, StreamMessage{
		Source: SourceStatus, Type: "snapshot", Data: st, Timestamp: time.Now().UTC(),
	}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-frames:
			if err := writeFrame(ctx, conn, msg); err != nil {
				slog.Debug("Event stream closed", "error", err)
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
