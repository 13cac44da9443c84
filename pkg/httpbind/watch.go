package httpbind

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	fieldstore "github.com/goliatone/go-fieldstore"
)

// watch streams a StateView per committed snapshot. A slow client skips
// intermediate snapshots; it always ends on the latest one.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("httpbind: websocket upgrade failed", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	h.streams[conn] = struct{}{}
	h.mu.Unlock()

	latest := make(chan fieldstore.State, 1)
	push := func(state fieldstore.State) {
		select {
		case <-latest:
		default:
		}
		select {
		case latest <- state:
		default:
		}
	}
	unsubscribe := h.store.OnStateChange(push)
	push(h.store.State())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		unsubscribe()
		h.mu.Lock()
		delete(h.streams, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-closed:
			return
		case state := <-latest:
			payload, err := json.Marshal(NewStateView(state))
			if err != nil {
				h.logger.Warn("httpbind: encode snapshot", slog.Any("error", err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
