package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/normanking/talkingavatar/internal/avatar"
	"github.com/normanking/talkingavatar/internal/bus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Frame is one WebSocket message to the renderer.
type Frame struct {
	Type  string        `json:"type"` // "state" or "event"
	State *avatar.State `json:"state,omitempty"`
	Event *bus.Event    `json:"event,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	s.register(client)
	defer func() {
		s.unregister(client)
		conn.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readPump(client, cancel)
	s.writePump(ctx, client)
}

func (s *Server) register(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug().Int("clients", n).Msg("Renderer connected")
}

func (s *Server) unregister(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug().Int("clients", n).Msg("Renderer disconnected")
}

// readPump drains the connection so control frames are processed. Inbound
// messages are ignored.
func (s *Server) readPump(c *wsClient, cancel context.CancelFunc) {
	defer cancel()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pushes a state frame every FrameInterval and forwards queued
// events until the client leaves, the server closes or the avatar stops.
func (s *Server) writePump(ctx context.Context, c *wsClient) {
	frames := time.NewTicker(s.cfg.FrameInterval)
	defer frames.Stop()
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	if !s.pushState(ctx, c) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			s.writeClose(c, websocket.CloseGoingAway, "server shutting down")
			return
		case msg := <-c.send:
			if !s.write(c, websocket.TextMessage, msg) {
				return
			}
		case <-frames.C:
			if !s.pushState(ctx, c) {
				return
			}
		case <-pings.C:
			if !s.write(c, websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (s *Server) pushState(ctx context.Context, c *wsClient) bool {
	st, err := s.deps.Avatar.Snapshot(ctx)
	if err != nil {
		s.writeClose(c, websocket.CloseGoingAway, "avatar stopped")
		return false
	}
	msg, err := json.Marshal(Frame{Type: "state", State: &st})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode state frame")
		return false
	}
	return s.write(c, websocket.TextMessage, msg)
}

func (s *Server) write(c *wsClient, messageType int, data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		s.logger.Debug().Err(err).Msg("WebSocket write failed")
		return false
	}
	return true
}

func (s *Server) writeClose(c *wsClient, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// broadcastEvent queues a bus event for every connected client. Slow clients
// miss events rather than stall the bus.
func (s *Server) broadcastEvent(e bus.Event) {
	msg, err := json.Marshal(Frame{Type: "event", Event: &e})
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(e.Type)).Msg("Failed to encode event frame")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.logger.Debug().Str("event", string(e.Type)).Msg("Dropping event for slow client")
		}
	}
}
