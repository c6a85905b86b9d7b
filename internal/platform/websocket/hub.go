// Package websocket is the real-time transport for conversation channels.
// Clients subscribe to channels such as "conversation:{id}" and receive every
// event published on them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/platform/auth"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// Event is one message delivered to channel subscribers.
type Event struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single WebSocket connection.
type Client struct {
	ID       string
	UserID   string
	Channels []string
	Send     chan []byte
	conn     Conn
}

// Hub tracks clients and their channel subscriptions.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	all      map[*Client]struct{}
	logger   zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		all:      make(map[*Client]struct{}),
		logger:   logger.With().Str("component", "websocket").Logger(),
	}
}

// Register adds a client and subscribes it to its initial channels.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, ch := range client.Channels {
		h.addLocked(ch, client)
	}
}

func (h *Hub) addLocked(channel string, client *Client) {
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][client] = struct{}{}
}

func (h *Hub) removeLocked(channel string, client *Client) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Unregister removes a client from every channel and closes its Send
// channel. Unregistering twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, ch := range client.Channels {
		h.removeLocked(ch, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		if _, already := h.channels[ch][client]; already {
			continue
		}
		h.addLocked(ch, client)
		client.Channels = append(client.Channels, ch)
	}
}

func (h *Hub) Unsubscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		drop[ch] = struct{}{}
		h.removeLocked(ch, client)
	}
	remaining := client.Channels[:0]
	for _, ch := range client.Channels {
		if _, ok := drop[ch]; !ok {
			remaining = append(remaining, ch)
		}
	}
	client.Channels = remaining
}

// Broadcast sends event to every subscriber of its channel. Slow clients
// whose buffer is full miss the event.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("channel", event.Channel).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[event.Channel] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("channel", event.Channel).Msg("client buffer full, dropping event")
		}
	}
}

// Publish delivers payload as event on channel. Delivery is best effort.
func (h *Hub) Publish(_ context.Context, channel, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.Broadcast(Event{Type: event, Channel: channel, Timestamp: time.Now().UTC(), Data: data})
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// SubscriberCount returns the number of clients on channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

// Authorizer reports whether userID may listen on channel.
type Authorizer func(ctx context.Context, userID, channel string) bool

type Handler struct {
	hub       *Hub
	authorize Authorizer
	upgrader  gorillawebsocket.Upgrader
}

// NewHandler builds the upgrade handler. allowedOrigins of "*" or empty
// accepts any origin.
func NewHandler(hub *Hub, authorize Authorizer, allowedOrigins []string) *Handler {
	return &Handler{
		hub:       hub,
		authorize: authorize,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return len(allowed) == 0
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// permitted filters channels down to those the caller may listen on.
func (h *Handler) permitted(ctx context.Context, userID string, channels []string) []string {
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if h.authorize == nil || h.authorize(ctx, userID, ch) {
			out = append(out, ch)
		}
	}
	return out
}

// HandleConnect upgrades the request and subscribes the client to the
// channels named in the comma separated "topics" query parameter.
func (h *Handler) HandleConnect(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var initial []string
	if raw := c.QueryParam("topics"); raw != "" {
		initial = h.permitted(ctx, userID, strings.Split(raw, ","))
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Channels: initial,
		Send:     make(chan []byte, sendBuffer),
		conn:     ws,
	}
	h.hub.Register(client)

	// The request context ends when this handler returns.
	authCtx := context.WithoutCancel(ctx)
	go h.writePump(client, ws)
	go h.readPump(authCtx, client, ws)
	return nil
}

// ProcessMessage applies a client's subscribe or unsubscribe request.
func (h *Handler) ProcessMessage(ctx context.Context, client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.hub.Subscribe(client, h.permitted(ctx, client.UserID, msg.Topics))
	case "unsubscribe":
		h.hub.Unsubscribe(client, msg.Topics)
	}
}

func (h *Handler) readPump(ctx context.Context, client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.ProcessMessage(ctx, client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
