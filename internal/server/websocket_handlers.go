package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
	wsSendBuffer   = 64
)

// errSendBufferFull is returned when a client does not keep up with events.
var errSendBufferFull = errors.New("websocket send buffer full")

// WebSocketRequest is a client message. Navigate applies a gesture to a book;
// subscribe limits pushed events to one book ("" for all).
type WebSocketRequest struct {
	Type      string           `json:"type"` // "navigate" or "subscribe"
	RequestID string           `json:"request_id,omitempty"`
	Book      string           `json:"book,omitempty"`
	Navigate  *NavigateRequest `json:"navigate,omitempty"`
}

// WebSocketResponse answers a client message.
type WebSocketResponse struct {
	Type      string          `json:"type"` // "navigate", "subscribed", "error"
	RequestID string          `json:"request_id,omitempty"`
	Book      string          `json:"book,omitempty"`
	Result    *session.Result `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// wsClient queues outgoing messages for one connection. Only the write pump
// writes to the connection.
type wsClient struct {
	id string

	mu     sync.Mutex
	book   string
	send   chan []byte
	closed bool
}

func newWSClient(book string) *wsClient {
	return &wsClient{id: uuid.NewString(), book: book, send: make(chan []byte, wsSendBuffer)}
}

// WriteMessage queues a text message without blocking.
func (c *wsClient) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- data:
		return nil
	default:
		websocketMessagesTotal.WithLabelValues("dropped").Inc()
		return errSendBufferFull
	}
}

func (c *wsClient) subscribe(book string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.book = book
}

func (c *wsClient) wants(book string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.book == "" || c.book == book
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans session events out to websocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues an event for every client subscribed to its book. Slow
// clients lose events rather than blocking the publisher.
func (h *Hub) Broadcast(e session.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("Failed to marshal session event", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.wants(e.BookID) {
			_ = c.WriteMessage(websocket.TextMessage, data)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.closed = true
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
		},
	}
}

// eventsWebSocketHandler streams session events and accepts navigation commands.
// The optional book query parameter subscribes to a single book.
func (s *Server) eventsWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	client := newWSClient(r.URL.Query().Get("book"))
	if !s.hub.register(client) {
		return
	}

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr, "client", client.id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(conn, client)
	}()
	s.readPump(conn, client)
	s.hub.unregister(client)
	<-done
}

// writePump sends queued messages and keepalive pings until the queue is closed.
func writePump(conn *websocket.Conn, c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("Failed to send WebSocket message", "client", c.id, "error", err)
				return
			}
			websocketMessagesTotal.WithLabelValues("sent").Inc()
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump processes client messages until the connection fails.
func (s *Server) readPump(conn *websocket.Conn, c *wsClient) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}

		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(c, data)
		}
	}
}

// handleWebSocketMessage processes one client message.
func (s *Server) handleWebSocketMessage(c *wsClient, data []byte) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(c, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}

	switch req.Type {
	case "subscribe":
		c.subscribe(req.Book)
		s.sendWebSocketResponse(c, WebSocketResponse{Type: "subscribed", RequestID: req.RequestID, Book: req.Book})
	case "navigate":
		s.handleWebSocketNavigate(c, req)
	default:
		s.sendWebSocketError(c, req.RequestID, "invalid_request", "Unsupported request type: "+req.Type)
	}
}

func (s *Server) handleWebSocketNavigate(c *wsClient, req WebSocketRequest) {
	if req.Book == "" || req.Navigate == nil {
		s.sendWebSocketError(c, req.RequestID, "invalid_request", "navigate requires book and navigate fields")
		return
	}
	ctx, cancel := contextWithTimeout(s.timeoutSec)
	defer cancel()

	sess, err := s.session(ctx, req.Book)
	if err != nil {
		s.sendWebSocketError(c, req.RequestID, "processing_error", err.Error())
		return
	}
	res, err := s.navigate(ctx, sess, *req.Navigate)
	if err != nil {
		s.sendWebSocketError(c, req.RequestID, "processing_error", err.Error())
		return
	}
	s.sendWebSocketResponse(c, WebSocketResponse{Type: "navigate", RequestID: req.RequestID, Book: req.Book, Result: &res})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
	}
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "error",
		RequestID: requestID,
		Error:     message,
		ErrorType: errorType,
	})
}
