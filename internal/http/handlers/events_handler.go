package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargeledger/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewEventsHandler returns GET /ws/events handler upgrading subscribers onto
// the notification hub.
func NewEventsHandler(hub *notify.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		sub := notify.NewSubscriber(ws, hub.PingInterval(), 10*time.Second, logger, hub.Remove)
		hub.Add(sub)
		sub.Start(r.Context())
	}
}
