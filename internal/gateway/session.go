package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a live session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// frame is the JSON text frame sent for every notification.
type frame struct {
	Message string `json:"message"`
}

// Session is one WebSocket connection subscribed to a recipient group.
type Session struct {
	recipient string
	conn      *websocket.Conn
	send      chan string
	done      chan struct{}
	state     atomic.Int32
	closeOnce sync.Once
	timing    timing
	logger    *slog.Logger
}

type timing struct {
	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func newSession(recipient string, conn *websocket.Conn, buffer int, t timing, logger *slog.Logger) *Session {
	s := &Session{
		recipient: recipient,
		conn:      conn,
		send:      make(chan string, buffer),
		done:      make(chan struct{}),
		timing:    t,
		logger:    logger.With("recipient", recipient),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Deliver queues message for the client. It never blocks: messages for a
// session that is not open, or whose buffer is full, are dropped.
func (s *Session) Deliver(message string) bool {
	if s.State() != StateOpen {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- message:
		return true
	default:
		return false
	}
}

func (s *Session) open() {
	s.state.Store(int32(StateOpen))
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		s.conn.Close()
	})
}

// readPump discards client messages and returns once the connection fails
// or the peer stops answering pings.
func (s *Session) readPump() {
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(s.timing.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.timing.pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("session read error", "error", err)
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.timing.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case msg := <-s.send:
			data, err := json.Marshal(frame{Message: msg})
			if err != nil {
				s.logger.Error("failed to encode frame", "error", err)
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(s.timing.writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("session write error", "error", err)
				s.close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.timing.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}
