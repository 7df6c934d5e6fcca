// Package gateway serves live notification sessions over WebSocket.
package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/blackmichael/post-pipeline/internal/notify"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = (defaultPongWait * 9) / 10
	sendBuffer        = 16
)

// Handler upgrades requests on /ws/notifications/{userID} and joins the
// resulting session to that user's recipient group.
type Handler struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
	timing   timing
	logger   *slog.Logger
}

// NewHandler creates a gateway handler backed by hub.
func NewHandler(hub *notify.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Identity comes from the URL; browsers on any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		timing: timing{
			writeWait:  defaultWriteWait,
			pongWait:   defaultPongWait,
			pingPeriod: defaultPingPeriod,
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	recipient := strconv.FormatInt(userID, 10)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", "recipient", recipient, "error", err)
		return
	}

	s := newSession(recipient, conn, sendBuffer, h.timing, h.logger)
	s.open()
	h.hub.Join(recipient, s)
	h.logger.Debug("session opened", "recipient", recipient)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	s.readPump()

	h.hub.Leave(recipient, s)
	s.close()
	<-writerDone
	h.logger.Debug("session closed", "recipient", recipient)
}
