package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/pkg/types"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	MsgTypeProgress  MessageType = "backtest_progress"
	MsgTypeHeartbeat MessageType = "heartbeat"
)

// WSMessage is a WebSocket message.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// client is one WebSocket connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// handleWebSocket upgrades the connection and streams backtest progress
// events until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Debug("WebSocket client connected", zap.String("id", c.id))

	go s.writePump(c)
	s.readPump(c)
}

// readPump discards inbound frames; the progress stream is one-way. It
// returns when the connection closes, which unregisters the client.
func (s *Server) readPump(c *client) {
	defer s.dropClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			heartbeat, _ := json.Marshal(WSMessage{
				Type:      MsgTypeHeartbeat,
				Timestamp: time.Now().Unix(),
			})
			if err := c.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				return
			}
		}
	}
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
	s.logger.Debug("WebSocket client disconnected", zap.String("id", c.id))
}

// broadcastProgress sends a progress event to every connected client. Slow
// clients are dropped rather than allowed to block the simulation.
func (s *Server) broadcastProgress(progress types.BacktestProgress) {
	data, err := json.Marshal(progress)
	if err != nil {
		return
	}
	msg, _ := json.Marshal(WSMessage{
		Type:      MsgTypeProgress,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		select {
		case c.send <- msg:
		default:
			delete(s.clients, id)
			close(c.send)
			c.conn.Close()
		}
	}
}
