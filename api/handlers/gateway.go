package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shaj13/go-guardian/auth"
	"go.uber.org/zap"

	"github.com/caresync/consult-chat-api/api"
	"github.com/caresync/consult-chat-api/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxEventSize   = 8192
	sendBufferSize = 64
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Adjust CORS as needed, e.g., check r.Header.Get("Origin")
	},
}

// Event is the envelope exchanged over the websocket in both directions.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinRequest struct {
	ChatID string `json:"chatId"`
}

type sendRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
	// advisory client clock in unix millis, echoed back but never used for ordering
	Timestamp int64 `json:"timestamp,omitempty"`
}

type typingRequest struct {
	ChatID string `json:"chatId"`
}

type joinedPayload struct {
	ChatID     string `json:"chatId"`
	ChatClosed bool   `json:"chatClosed"`
}

type messagePayload struct {
	models.ChatMessage
	ClientSentAt int64 `json:"clientSentAt,omitempty"`
}

type roomClosedPayload struct {
	ChatID string `json:"chatId"`
}

type typingPayload struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
}

type errorPayload struct {
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Hub is the realtime gateway and presence registry. It authenticates
// connections, tracks which connections are subscribed to which room and
// serializes append-then-broadcast per room. All state is process-local and
// rebuilt as clients reconnect.
type Hub struct {
	Rooms *RoomService
	Guard *api.Guard

	mu     sync.RWMutex
	groups map[string]*roomGroup
}

// roomGroup is the broadcast group for a single room. Its mutex is the
// serialization point for join/leave, append-then-broadcast and the close
// transition; groups of different rooms never contend.
type roomGroup struct {
	mu      sync.Mutex
	clients map[*ChatClient]bool
}

// NewHub creates the realtime gateway over the given room service and guard
func NewHub(rooms *RoomService, guard *api.Guard) *Hub {
	return &Hub{
		Rooms:  rooms,
		Guard:  guard,
		groups: make(map[string]*roomGroup),
	}
}

func (h *Hub) group(roomID string) *roomGroup {
	h.mu.RLock()
	g, ok := h.groups[roomID]
	h.mu.RUnlock()
	if ok {
		return g
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok = h.groups[roomID]; ok {
		return g
	}
	g = &roomGroup{clients: make(map[*ChatClient]bool)}
	h.groups[roomID] = g
	return g
}

// ChatClient is a single live websocket connection and its subscriptions.
type ChatClient struct {
	ID       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity auth.Info

	mu     sync.Mutex
	joined map[string]bool
	gone   bool
}

// AccountID returns the verified account id behind this connection.
func (c *ChatClient) AccountID() string {
	return c.identity.ID()
}

// HandleWebSocket authenticates the upgrade request with either credential
// kind and starts the connection pumps. Room membership is not checked here;
// that happens per join.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	info, err := h.Guard.Resolve(r)
	if err != nil {
		zap.S().Errorw("websocket authentication failed",
			"url", r.URL,
			"error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		b, _ := json.Marshal(errorPayload{Reason: models.ReasonAuthentication, Message: "unauthorized"})
		w.Write(b)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := &ChatClient{
		ID:       uuid.New().String(),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		identity: info,
		joined:   make(map[string]bool),
	}
	zap.S().Debugw("client connected", "connection", client.ID, "account", client.AccountID())

	go client.writePump()
	client.readPump()
}

func (c *ChatClient) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxEventSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Debugw("websocket read error", "connection", c.ID, "error", err)
			}
			return
		}

		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.sendError(models.ReasonValidation, "malformed event", false)
			continue
		}

		switch evt.Event {
		case "join":
			c.handleJoin(evt.Data)
		case "send":
			c.handleSend(evt.Data)
		case "typing":
			c.handleTyping(evt.Data, "peer-typing")
		case "stopTyping":
			c.handleTyping(evt.Data, "peer-stopped-typing")
		default:
			c.sendError(models.ReasonValidation, "unknown event: "+evt.Event, false)
		}
	}
}

func (c *ChatClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
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

func (c *ChatClient) handleJoin(data json.RawMessage) {
	var req joinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChatID == "" {
		c.sendError(models.ReasonValidation, "chatId is required", false)
		return
	}

	ctx, cancel := api.WithQueryTimeout(context.Background())
	defer cancel()

	appt, err := c.hub.Rooms.GuardedRoom(ctx, req.ChatID, c.AccountID())
	if err != nil {
		c.sendRoomError(err)
		return
	}

	// joining a closed room is allowed for viewing; sends stay gated
	g := c.hub.group(req.ChatID)
	g.mu.Lock()
	g.clients[c] = true
	g.mu.Unlock()

	c.mu.Lock()
	c.joined[req.ChatID] = true
	c.mu.Unlock()

	zap.S().Debugw("client joined room", "connection", c.ID, "room", req.ChatID)
	c.sendEvent("joined", joinedPayload{ChatID: req.ChatID, ChatClosed: appt.ChatClosed()})
}

func (c *ChatClient) handleSend(data json.RawMessage) {
	var req sendRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChatID == "" {
		c.sendError(models.ReasonValidation, "chatId is required", false)
		return
	}
	if !c.isJoined(req.ChatID) {
		c.sendError(models.ReasonUnauthorized, "join the room before sending", false)
		return
	}

	ctx, cancel := api.WithQueryTimeout(context.Background())
	defer cancel()

	msg := models.ChatMessage{
		ChatID:   req.ChatID,
		SenderID: c.AccountID(),
		Message:  req.Message,
	}
	if _, err := c.hub.AppendAndBroadcast(ctx, msg, req.Timestamp); err != nil {
		c.sendRoomError(err)
		return
	}
}

func (c *ChatClient) handleTyping(data json.RawMessage, event string) {
	var req typingRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChatID == "" {
		return
	}
	if !c.isJoined(req.ChatID) {
		return
	}
	raw := eventBytes(event, typingPayload{ChatID: req.ChatID, SenderID: c.AccountID()})
	g := c.hub.group(req.ChatID)
	g.mu.Lock()
	g.broadcast(raw, c)
	g.mu.Unlock()
}

func (c *ChatClient) isJoined(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[roomID]
}

// AppendAndBroadcast funnels a message through the lifecycle gate, the store
// and the fan-out under the room's serialization lock, so broadcast order
// always agrees with store acceptance order. Both the websocket send path
// and the HTTP upload path come through here.
func (h *Hub) AppendAndBroadcast(ctx context.Context, msg models.ChatMessage, clientSentAt int64) (*models.ChatMessage, error) {
	g := h.group(msg.ChatID)
	g.mu.Lock()
	defer g.mu.Unlock()

	stored, err := h.Rooms.Append(ctx, msg)
	if err != nil {
		return nil, err
	}
	g.broadcast(eventBytes("message-received", messagePayload{ChatMessage: *stored, ClientSentAt: clientSentAt}), nil)
	return stored, nil
}

// Close transitions the room to closed and notifies current subscribers,
// whether or not the closing actor holds a gateway connection. The room lock
// serializes the transition against in-flight sends.
func (h *Hub) Close(ctx context.Context, roomID, actorID string) (*models.Appointment, bool, error) {
	g := h.group(roomID)
	g.mu.Lock()
	defer g.mu.Unlock()

	appt, transitioned, err := h.Rooms.Close(ctx, roomID, actorID)
	if err != nil {
		return nil, false, err
	}
	// only the actual open->closed transition notifies; a repeated close
	// is a no-op for subscribers too
	if transitioned {
		g.broadcast(eventBytes("room-closed", roomClosedPayload{ChatID: roomID}), nil)
	}
	return appt, transitioned, nil
}

// Subscribers reports how many live connections are subscribed to the room.
func (h *Hub) Subscribers(roomID string) int {
	g := h.group(roomID)
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// disconnect removes the connection from every room it joined. No peer-left
// event is emitted.
func (h *Hub) disconnect(c *ChatClient) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.joined))
	for roomID := range c.joined {
		rooms = append(rooms, roomID)
	}
	gone := c.gone
	c.gone = true
	c.mu.Unlock()

	for _, roomID := range rooms {
		g := h.group(roomID)
		g.mu.Lock()
		delete(g.clients, c)
		g.mu.Unlock()
	}
	if !gone {
		close(c.send)
		zap.S().Debugw("client disconnected", "connection", c.ID, "account", c.AccountID())
	}
}

// broadcast enqueues raw to every subscriber except the given one. The
// caller holds g.mu; a subscriber with a full send buffer misses the frame
// rather than stalling the room.
func (g *roomGroup) broadcast(raw []byte, except *ChatClient) {
	for client := range g.clients {
		if client == except {
			continue
		}
		select {
		case client.send <- raw:
		default:
			zap.S().Warnw("dropping frame for slow client", "connection", client.ID)
		}
	}
}

func (c *ChatClient) sendEvent(event string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return
	}
	select {
	case c.send <- eventBytes(event, data):
	default:
	}
}

func (c *ChatClient) sendError(reason, message string, retryable bool) {
	c.sendEvent("error", errorPayload{Reason: reason, Message: message, Retryable: retryable})
}

// sendRoomError maps a room service failure onto the wire error taxonomy.
func (c *ChatClient) sendRoomError(err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		c.sendError(models.ReasonNotFound, err.Error(), false)
	case errors.Is(err, ErrNotAParty):
		c.sendError(models.ReasonUnauthorized, err.Error(), false)
	case errors.Is(err, ErrChatClosed):
		c.sendError(models.ReasonChatClosed, err.Error(), false)
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong):
		c.sendError(models.ReasonValidation, err.Error(), false)
	case errors.Is(err, ErrNotClosed):
		c.sendError(models.ReasonInvalidState, err.Error(), false)
	default:
		c.sendError(models.ReasonStore, "failed to store message, try again", true)
	}
}

func eventBytes(event string, data interface{}) []byte {
	b, err := json.Marshal(data)
	if err != nil {
		zap.S().Errorw("failed to marshal event payload", "event", event, "error", err)
		return nil
	}
	raw, _ := json.Marshal(Event{Event: event, Data: b})
	return raw
}
