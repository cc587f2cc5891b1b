package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tradesentry/tradesentry/internal/engine"
	"github.com/tradesentry/tradesentry/internal/events"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/metrics"
	"github.com/tradesentry/tradesentry/internal/risk"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer
	pongWait = 60 * time.Second

	// Ping period; must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The admin surface sits behind the operator's network boundary,
	// same stance as the wide-open CORS policy above.
	CheckOrigin: func(*http.Request) bool { return true },
}

// command is one inbound frame on the /ws channel.
type command struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// frame is one outbound websocket message on either channel.
type frame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// wsClient is one connection. Command clients receive only their own
// responses; event clients additionally receive hub broadcasts.
type wsClient struct {
	hub    *hub
	conn   *websocket.Conn
	send   chan []byte
	events bool
}

// hub tracks connected clients and fans broadcast frames out to the
// event-stream subscribers. A client whose send buffer is full is
// dropped rather than allowed to stall the loop.
type hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	logger     zerolog.Logger
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		logger:     logger.With().Str("component", "ws-hub").Logger(),
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			metrics.WebsocketClients.Set(float64(len(h.clients)))
			h.logger.Info().Int("clients", len(h.clients)).Msg("websocket client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			metrics.WebsocketClients.Set(float64(len(h.clients)))
			h.logger.Info().Int("clients", len(h.clients)).Msg("websocket client disconnected")

		case message := <-h.broadcast:
			for client := range h.clients {
				if !client.events {
					continue
				}
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// broadcastEvent serializes one domain event for the /ws/events stream.
func (h *hub) broadcastEvent(evt events.Event) {
	raw, err := json.Marshal(frame{
		Type:      "event",
		Data:      evt,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("event frame marshal failed")
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.logger.Warn().Msg("broadcast queue full, event frame dropped")
	}
}

// handleCommandSocket serves the bidirectional /ws channel.
func (s *Server) handleCommandSocket(c *gin.Context) {
	s.serveSocket(c, false)
}

// handleEventSocket serves the /ws/events stream. Clients subscribe
// implicitly: every domain event is pushed as one JSON frame.
func (s *Server) handleEventSocket(c *gin.Context) {
	s.serveSocket(c, true)
}

func (s *Server) serveSocket(c *gin.Context, eventStream bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		events: eventStream,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump(s)
}

func (c *wsClient) readPump(s *Server) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Error().Err(err).Msg("websocket read error")
			}
			return
		}
		if c.events {
			// The event stream is one-way; inbound frames are ignored.
			continue
		}
		c.reply(s.dispatchCommand(c, message))
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) reply(f frame) {
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
		// Buffer full; the pump will notice the broken peer soon enough.
	}
}

// dispatchCommand executes one /ws command and builds its response
// frame. Failures become error frames with the REST envelope body.
func (s *Server) dispatchCommand(c *wsClient, message []byte) frame {
	now := time.Now().UTC()

	var cmd command
	if err := json.Unmarshal(message, &cmd); err != nil {
		return frame{Type: "error", Error: &errorBody{Code: "VALIDATION_ERROR", Message: "malformed command frame"}, Timestamp: now}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd.Command {
	case "ping":
		return frame{Type: "pong", Timestamp: now}

	case "status":
		return frame{Type: "status", Data: s.deps.Control.Status(), Timestamp: now}

	case "start":
		if err := s.deps.Control.Resume("ws"); err != nil {
			if errors.Is(err, engine.ErrAlreadyRunning) {
				return frame{Type: "error", Error: &errorBody{Code: "VALIDATION_ERROR", Message: err.Error()}, Timestamp: now}
			}
			return errorFrame(err, now)
		}
		return frame{Type: "start", Data: gin.H{"trading": "started"}, Timestamp: now}

	case "stop":
		if err := s.deps.Control.Pause("ws"); err != nil {
			if errors.Is(err, engine.ErrAlreadyPaused) {
				return frame{Type: "error", Error: &errorBody{Code: "VALIDATION_ERROR", Message: err.Error()}, Timestamp: now}
			}
			return errorFrame(err, now)
		}
		return frame{Type: "stop", Data: gin.H{"trading": "stopped"}, Timestamp: now}

	case "positions":
		positions, err := s.deps.Venue.GetPositions(ctx)
		if err != nil {
			return errorFrame(err, now)
		}
		return frame{Type: "positions", Data: positions, Timestamp: now}

	case "trade":
		var req exchange.OrderRequest
		if len(cmd.Params) > 0 {
			if err := json.Unmarshal(cmd.Params, &req); err != nil {
				return frame{Type: "error", Error: &errorBody{Code: "VALIDATION_ERROR", Message: "malformed trade params"}, Timestamp: now}
			}
		}
		if req.Symbol == "" || (!req.ReduceOnly && req.Quantity <= 0) {
			return frame{Type: "error", Error: &errorBody{Code: "VALIDATION_ERROR", Message: "symbol and a positive quantity are required"}, Timestamp: now}
		}
		req.Source = "ws"
		order, err := s.deps.Control.PlaceOrder(ctx, req)
		if err != nil {
			var rej *risk.RejectError
			if errors.As(err, &rej) {
				return frame{
					Type:      "error",
					Data:      order,
					Error:     &errorBody{Code: rej.Kind, Message: rej.Message},
					Timestamp: now,
				}
			}
			return errorFrame(err, now)
		}
		return frame{Type: "trade", Data: order, Timestamp: now}

	default:
		return frame{Type: "error", Error: &errorBody{Code: "VALIDATION_ERROR", Message: "unknown command: " + cmd.Command}, Timestamp: now}
	}
}

func errorFrame(err error, at time.Time) frame {
	_, body := envelopeFor(err)
	return frame{Type: "error", Error: &body, Timestamp: at}
}
