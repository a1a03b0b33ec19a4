package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"teamhub-backend/internal/domain"
	"teamhub-backend/internal/service/call"
	"teamhub-backend/pkg/constants"
	"teamhub-backend/pkg/logger"
	"teamhub-backend/pkg/metrics"
)

// PresenceStore tracks which users currently hold a live connection.
type PresenceStore interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// RoomAuthorizer gates call-room subscriptions on conversation
// membership. It must not create or require participant rows: joining
// and leaving a call is the lifecycle manager's job over HTTP, while the
// socket's joinCall/leaveCall actions only manage room subscriptions.
type RoomAuthorizer interface {
	AuthorizeRoom(ctx context.Context, callID, userID uuid.UUID) error
}

// Client message types. joinCall/leaveCall manage room subscriptions,
// the signal kinds are relayed verbatim to the other members of the room.
const (
	ActionJoinCall  = "joinCall"
	ActionLeaveCall = "leaveCall"
)

// ClientMessage is what a connected client sends over the socket.
type ClientMessage struct {
	Type      string          `json:"type"`
	CallID    uuid.UUID       `json:"call_id,omitempty"`
	TargetID  uuid.UUID       `json:"target_id,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// SignalMessage is the relayed form of an offer/answer/ICE message.
type SignalMessage struct {
	Type      string          `json:"type"`
	CallID    uuid.UUID       `json:"call_id"`
	SenderID  uuid.UUID       `json:"sender_id"`
	TargetID  uuid.UUID       `json:"target_id,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// roomMessage is an outbound frame addressed to one room. senderID (when
// set) is excluded from delivery; targetID (when set) is the only
// recipient.
type roomMessage struct {
	room     string
	senderID uuid.UUID
	targetID uuid.UUID
	data     []byte
}

// membershipChange moves a client in or out of a room.
type membershipChange struct {
	client *Client
	room   string
	join   bool
}

// Hub fans room events out to the WebSocket clients of this instance. It
// keeps one Redis subscription per room with at least one local member, so
// events published by any instance reach every connected client.
type Hub struct {
	// Local members per room
	rooms map[string]map[*Client]bool

	// Cancel functions for per-room Redis subscriptions
	subscriptionCancels map[string]context.CancelFunc

	redisClient *redis.Client
	presence    PresenceStore
	metrics     *metrics.Metrics

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	membership chan *membershipChange
	broadcast  chan *roomMessage

	// Concurrency limit for accepted connections
	maxConnections int
	semaphore      chan struct{}
}

// Client represents one authenticated WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	calls  RoomAuthorizer

	// rooms this client is a member of, guarded by the hub mutex
	rooms map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for allowed := range allowedOrigins() {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

func allowedOrigins() map[string]bool {
	origins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:5173": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:5173": true,
	}
	if env := os.Getenv("CORS_ALLOWED_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origins[strings.TrimSpace(origin)] = true
		}
	}
	return origins
}

// NewHub creates a new hub and starts its event loop.
func NewHub(redisClient *redis.Client, presence PresenceStore, m *metrics.Metrics) *Hub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &Hub{
		rooms:               make(map[string]map[*Client]bool),
		subscriptionCancels: make(map[string]context.CancelFunc),
		redisClient:         redisClient,
		presence:            presence,
		metrics:             m,
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		membership:          make(chan *membershipChange, 64),
		broadcast:           make(chan *roomMessage, 256),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.addToRoom(client, domain.UserRoom(client.userID))

		case client := <-h.unregister:
			h.mu.Lock()
			for room := range client.rooms {
				h.removeFromRoomLocked(client, room)
			}
			h.mu.Unlock()
			close(client.send)
			client.cancel()

		case change := <-h.membership:
			if change.join {
				h.addToRoom(change.client, change.room)
			} else {
				h.mu.Lock()
				h.removeFromRoomLocked(change.client, change.room)
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// addToRoom registers a client in a room, starting the room's Redis
// subscription when it gets its first local member.
func (h *Hub) addToRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)

		ctx, cancel := context.WithCancel(context.Background())
		h.subscriptionCancels[room] = cancel
		go h.subscribeToRoom(ctx, room)
	}
	h.rooms[room][client] = true
	client.rooms[room] = true
}

// removeFromRoomLocked drops a client from a room and tears down the Redis
// subscription when the room empties. Caller holds h.mu.
func (h *Hub) removeFromRoomLocked(client *Client, room string) {
	clients, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(clients, client)
	delete(client.rooms, room)

	if len(clients) == 0 {
		if cancel, ok := h.subscriptionCancels[room]; ok {
			cancel()
			delete(h.subscriptionCancels, room)
		}
		delete(h.rooms, room)
	}
}

func (h *Hub) deliver(message *roomMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.rooms[message.room]
	if !ok {
		return
	}

	for client := range clients {
		if message.targetID != uuid.Nil && client.userID != message.targetID {
			continue
		}
		if message.targetID == uuid.Nil && message.senderID != uuid.Nil && client.userID == message.senderID {
			continue
		}
		select {
		case client.send <- message.data:
		default:
			// Slow consumer, drop the frame rather than block the hub
			logger.Warn("Dropping WebSocket frame for slow consumer",
				zap.String("room", message.room),
				zap.String("user_id", client.userID.String()))
		}
	}
}

// subscribeToRoom relays Redis-published room events to local members.
func (h *Hub) subscribeToRoom(ctx context.Context, room string) {
	pubsub := h.redisClient.Subscribe(ctx, call.RoomChannel(room))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe to room channel",
			zap.String("room", room),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			// Validate the envelope before fan-out
			var event domain.RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn("Discarding malformed room event",
					zap.String("room", room),
					zap.Error(err))
				continue
			}

			h.broadcast <- &roomMessage{
				room: room,
				data: []byte(msg.Payload),
			}
		}
	}
}

// ServeWS upgrades an authenticated request to a WebSocket connection.
// Every client is subscribed to its personal room on connect; call rooms
// are joined and left via client messages.
func (h *Hub) ServeWS(c *gin.Context, authorizer RoomAuthorizer) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		<-h.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		<-h.semaphore
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		calls:  authorizer,
		rooms:  make(map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}

	if h.metrics != nil {
		h.metrics.WebSocketConnected()
	}
	if err := h.presence.SetUserOnline(ctx, userID); err != nil {
		logger.Warn("Failed to mark user online",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (h *Hub) release(client *Client) {
	<-h.semaphore
	if h.metrics != nil {
		h.metrics.WebSocketDisconnected()
	}
	if err := h.presence.SetUserOffline(context.Background(), client.userID); err != nil {
		logger.Warn("Failed to mark user offline",
			zap.String("user_id", client.userID.String()),
			zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.hub.release(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval * 2))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval * 2))
		if err := c.hub.presence.RefreshPresence(c.ctx, c.userID); err != nil {
			logger.Debug("Failed to refresh presence",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage(msg.Type)
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case ActionJoinCall:
		if err := c.calls.AuthorizeRoom(c.ctx, msg.CallID, c.userID); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.hub.membership <- &membershipChange{
			client: c,
			room:   domain.CallRoom(msg.CallID),
			join:   true,
		}

	case ActionLeaveCall:
		// Unconditional: a client whose participant row was already
		// closed over HTTP (or whose call ended) must still be able to
		// drop the subscription.
		c.hub.membership <- &membershipChange{
			client: c,
			room:   domain.CallRoom(msg.CallID),
			join:   false,
		}

	case domain.SignalOffer, domain.SignalAnswer, domain.SignalICECandidate:
		c.relaySignal(msg)

	default:
		logger.Debug("Ignoring unknown WebSocket message type",
			zap.String("type", msg.Type),
			zap.String("user_id", c.userID.String()))
	}
}

// relaySignal forwards a WebRTC signaling message to the other members of
// the call room. The sender never receives its own signal back; payloads
// pass through untouched.
func (c *Client) relaySignal(msg *ClientMessage) {
	room := domain.CallRoom(msg.CallID)

	c.hub.mu.RLock()
	member := c.rooms[room]
	c.hub.mu.RUnlock()
	if !member {
		c.sendError(msg.Type, domain.ErrNotInCall)
		return
	}

	signal := &SignalMessage{
		Type:      msg.Type,
		CallID:    msg.CallID,
		SenderID:  c.userID,
		TargetID:  msg.TargetID,
		SDP:       msg.SDP,
		Candidate: msg.Candidate,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(signal)
	if err != nil {
		logger.Error("Failed to marshal signaling message",
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
		return
	}

	c.hub.broadcast <- &roomMessage{
		room:     room,
		senderID: c.userID,
		targetID: msg.TargetID,
		data:     data,
	}
}

func (c *Client) sendError(action string, err error) {
	frame, marshalErr := json.Marshal(gin.H{
		"type":   "error",
		"action": action,
		"error":  err.Error(),
	})
	if marshalErr != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
