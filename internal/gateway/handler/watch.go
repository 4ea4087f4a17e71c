package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"diffgrid/internal/observability"
)

const (
	defaultWatchInterval = 5 * time.Second

	watchWriteWait = 10 * time.Second
	watchPongWait  = 60 * time.Second
	watchPingEvery = (watchPongWait * 9) / 10
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type watchError struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// HandleWatchDiffusion upgrades to a websocket and pushes a poll result
// every interval until the run completes, a poll fails or the client goes
// away.
func (h *DiffusionHandler) HandleWatchDiffusion(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.PathValue("callID"))
	if callID == "" {
		writeDetail(w, http.StatusBadRequest, "call id is required")
		return
	}

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := observability.FromContext(r.Context(), h.log).With("call_id", callID)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(watchPongWait)); err != nil {
		log.Warn("watch set read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})

	// The reader only drains control frames; a read error means the client
	// is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(h.watchInterval)
	defer poll.Stop()
	ping := time.NewTicker(watchPingEvery)
	defer ping.Stop()

	for {
		result, err := h.svc.PollDiffusion(ctx, callID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			status, detail := errorStatus(err)
			log.Warn("watch poll failed", "status", status, "error", err)
			h.writeWatch(conn, watchError{Type: "error", Status: status, Detail: detail})
			h.closeWatch(conn, websocket.CloseInternalServerErr, detail)
			return
		}
		if err := h.writeWatch(conn, result); err != nil {
			return
		}
		if result.Terminal() {
			h.closeWatch(conn, websocket.CloseNormalClosure, "complete")
			return
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-poll.C:
				break wait
			}
		}
	}
}

func (h *DiffusionHandler) writeWatch(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (h *DiffusionHandler) closeWatch(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteWait))
}
