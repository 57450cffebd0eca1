package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"repoaudit/internal/gateway/run"
)

const (
	watchWSWriteWait = 10 * time.Second
	watchWSPongWait  = 60 * time.Second
	watchWSPingEvery = (watchWSPongWait * 9) / 10
)

var watchWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type watchWSOutbound struct {
	Type    string              `json:"type"`
	RunID   string              `json:"runId,omitempty"`
	Payload *WatchAuditResponse `json:"payload,omitempty"`
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
}

// WatchHandler pushes a run's progress over a WebSocket.
type WatchHandler struct {
	svc *run.Service
	log *zap.Logger
}

func NewWatchHandler(svc *run.Service, logger *zap.Logger) *WatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatchHandler{svc: svc, log: logger}
}

func (h *WatchHandler) HandleWatchWS(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}
	audit, err := h.svc.Get(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := watchWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(watchWSPongWait)); err != nil {
		h.log.Warn("watch ws set read deadline failed", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchWSPongWait))
	})

	writeCh := make(chan watchWSOutbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ticker := time.NewTicker(watchWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out, ok := <-writeCh:
				if !ok {
					_ = conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait))
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reads only service control frames; a read error means the peer left.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	pushWatchWS(writeCh, watchWSOutbound{Type: "subscribed", RunID: runID})

	send := func(msg watchWSOutbound) bool {
		select {
		case writeCh <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	from := 0
	for {
		evs, done, err := audit.Wait(ctx, from)
		if err != nil {
			break
		}
		for i := range evs {
			if !send(watchWSOutbound{Type: "event", RunID: runID, Payload: &WatchAuditResponse{Event: &evs[i]}}) {
				break
			}
		}
		from += len(evs)
		if done {
			if send(watchWSOutbound{Type: "complete", RunID: runID, Payload: terminalResponse(audit.Snapshot())}) {
				close(writeCh)
			}
			break
		}
	}
	<-writerDone
}

// pushWatchWS enqueues without blocking, dropping the oldest queued message
// when the writer falls behind.
func pushWatchWS(ch chan watchWSOutbound, msg watchWSOutbound) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}
