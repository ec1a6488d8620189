package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/token-indexer/internal/notify"
	"github.com/token-indexer/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // same policy as the CORS middleware
	},
}

// handleWebSocket streams all notification topics to the client
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub := s.bus.Subscribe(
		types.TopicJobProgress,
		types.TopicNewTransfer,
		types.TopicEndpointCreated,
		types.TopicSystemStatus,
	)
	s.serveSubscription(w, r, sub)
}

// handleJobWebSocket streams progress and transfers for a single job
func (s *Server) handleJobWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	sub := s.bus.SubscribeJob(jobID,
		types.TopicJobProgress,
		types.TopicNewTransfer,
		types.TopicEndpointCreated,
	)
	s.serveSubscription(w, r, sub)
}

func (s *Server) serveSubscription(w http.ResponseWriter, r *http.Request, sub *notify.Subscription) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.bus.Unsubscribe(sub)
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	done := make(chan struct{})
	go s.readPump(conn, done)
	go s.writePump(conn, sub, done)
}

// readPump discards client messages and detects disconnects
func (s *Server) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards bus messages to the client with periodic pings
func (s *Server) writePump(conn *websocket.Conn, sub *notify.Subscription, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.bus.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
