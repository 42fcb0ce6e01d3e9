package http

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const streamWriteTimeout = 10 * time.Second

// StreamExecution upgrades to a WebSocket and pushes journal events as they
// are appended, one JSON message per event. The server closes the stream
// after the terminal event.
func (h *Handler) StreamExecution(c echo.Context) error {
	ctx := c.Request().Context()
	executionID := c.Param("execution_id")
	if _, err := h.svc.GetExecution(ctx, executionID); err != nil {
		return writeError(c, err)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WARN: failed to upgrade stream for execution %s: %v", executionID, err)
		return nil
	}
	defer ws.Close()

	// The client never sends anything; reading detects when it goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var lastSeq int64
	for {
		events, err := h.svc.Events(ctx, executionID, lastSeq)
		if err != nil {
			log.Printf("WARN: stream for execution %s stopped: %v", executionID, err)
			closeStream(ws, websocket.CloseInternalServerErr, "failed to read events")
			return nil
		}
		for _, ev := range events {
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				return nil
			}
			lastSeq = ev.Seq
			if ev.Kind.IsTerminal() {
				closeStream(ws, websocket.CloseNormalClosure, string(ev.Kind))
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return nil
		case <-ticker.C:
		}
	}
}

func closeStream(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
}
