package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/monitoring"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 64
	authTimeout  = 5 * time.Second
)

// TokenVerifier 把访问令牌解析为调用方身份
type TokenVerifier interface {
	Principal(token string) (*domain.Principal, error)
}

// AddressAuthorizer 判断调用方能否订阅某个地址的新邮件
type AddressAuthorizer interface {
	CanViewAddress(ctx context.Context, p *domain.Principal, addressID string) (bool, error)
}

// NewMailSubscriber 跨实例的新邮件事件来源（Redis 频道）
type NewMailSubscriber interface {
	SubscribeNewMail(ctx context.Context, handle func(domain.NewMailEvent)) error
}

// MessageType WebSocket 消息类型
type MessageType string

const (
	MessageTypeNewMail     MessageType = "new_mail"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message WebSocket 消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	AddressID string          `json:"addressId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 一个已认证的 WebSocket 连接
type Client struct {
	ID        string
	principal *domain.Principal
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	addresses map[string]bool
	mu        sync.Mutex
}

type broadcastMessage struct {
	addressID string
	payload   []byte
}

// Hub 管理连接和按地址的订阅关系。广播、注册和注销都在 Run 协程里串行处理。
type Hub struct {
	clients    map[string]*Client
	addresses  map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	done       chan struct{}
	mu         sync.RWMutex

	allowedOrigins []string
	tokens         TokenVerifier
	authz          AddressAuthorizer
	metrics        *monitoring.Metrics
	log            *zap.Logger
}

// NewHub 创建 Hub。allowedOrigins 为空时允许所有来源。
func NewHub(allowedOrigins []string, tokens TokenVerifier, authz AddressAuthorizer, metrics *monitoring.Metrics, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:        make(map[string]*Client),
		addresses:      make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *broadcastMessage, 256),
		done:           make(chan struct{}),
		allowedOrigins: allowedOrigins,
		tokens:         tokens,
		authz:          authz,
		metrics:        metrics,
		log:            log,
	}
}

// Run 处理注册、注销和广播，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.UpdateWebsocketClients(count)
			h.log.Debug("websocket client registered", zap.String("clientID", client.ID), zap.String("userID", client.principal.UserID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// PublishNewMail 把新邮件事件推送给订阅了该地址的本实例连接
func (h *Hub) PublishNewMail(ctx context.Context, evt domain.NewMailEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(&Message{
		Type:      MessageTypeNewMail,
		AddressID: evt.AddressID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- &broadcastMessage{addressID: evt.AddressID, payload: payload}:
		return nil
	case <-h.done:
		return errors.New("websocket hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RelayFrom 把跨实例频道上的事件转发给本实例的连接，阻塞直到 ctx 结束
func (h *Hub) RelayFrom(ctx context.Context, sub NewMailSubscriber) error {
	return sub.SubscribeNewMail(ctx, func(evt domain.NewMailEvent) {
		if err := h.PublishNewMail(ctx, evt); err != nil && ctx.Err() == nil {
			h.log.Warn("failed to relay new mail event", zap.String("addressID", evt.AddressID), zap.Error(err))
		}
	})
}

// SubscriberCount 订阅某个地址的连接数
func (h *Hub) SubscriberCount(addressID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.addresses[addressID])
}

func (h *Hub) deliver(msg *broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.addresses[msg.addressID] {
		select {
		case client.send <- msg.payload:
		default:
			h.log.Warn("websocket client too slow, dropping event", zap.String("clientID", client.ID))
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for addressID := range client.addresses {
		if subs, ok := h.addresses[addressID]; ok {
			delete(subs, client.ID)
			if len(subs) == 0 {
				delete(h.addresses, addressID)
			}
		}
	}
	delete(h.clients, client.ID)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.UpdateWebsocketClients(count)
	h.log.Debug("websocket client unregistered", zap.String("clientID", client.ID))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.addresses = make(map[string]map[string]*Client)
	h.metrics.UpdateWebsocketClients(0)
}

func (h *Hub) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// bearerToken 从 token 查询参数或 Authorization 头读取令牌
func bearerToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// HandleWebSocket 认证并升级连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := hub.upgrader()

	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		principal, err := hub.tokens.Principal(token)
		if err != nil {
			hub.log.Warn("websocket authentication failed", zap.String("remoteAddr", c.ClientIP()), zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("websocket upgrade failed",
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			principal: principal,
			conn:      conn,
			send:      make(chan []byte, sendBuffer),
			hub:       hub,
			addresses: make(map[string]bool),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read failed", zap.String("clientID", c.ID), zap.Error(err))
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribe(msg.AddressID)
	case MessageTypeUnsubscribe:
		c.unsubscribe(msg.AddressID)
	case MessageTypePing:
		c.reply(&Message{Type: MessageTypePong, Timestamp: time.Now().UTC()})
	case MessageTypePong:
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	default:
		c.replyError("unknown message type")
	}
}

func (c *Client) subscribe(addressID string) {
	if addressID == "" {
		c.replyError("addressId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()
	allowed, err := c.hub.authz.CanViewAddress(ctx, c.principal, addressID)
	if err != nil {
		c.hub.log.Error("websocket subscription check failed", zap.String("addressID", addressID), zap.Error(err))
		c.replyError("subscription check failed")
		return
	}
	if !allowed {
		c.hub.log.Info("websocket subscription denied",
			zap.String("clientID", c.ID),
			zap.String("userID", c.principal.UserID),
			zap.String("addressID", addressID))
		c.replyError("no permission to access address: " + addressID)
		return
	}

	c.mu.Lock()
	c.addresses[addressID] = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	if c.hub.addresses[addressID] == nil {
		c.hub.addresses[addressID] = make(map[string]*Client)
	}
	c.hub.addresses[addressID][c.ID] = c
	c.hub.mu.Unlock()

	c.reply(&Message{Type: MessageTypeSubscribed, AddressID: addressID, Timestamp: time.Now().UTC()})
}

func (c *Client) unsubscribe(addressID string) {
	c.mu.Lock()
	delete(c.addresses, addressID)
	c.mu.Unlock()

	c.hub.mu.Lock()
	if subs, ok := c.hub.addresses[addressID]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(c.hub.addresses, addressID)
		}
	}
	c.hub.mu.Unlock()
}

func (c *Client) replyError(text string) {
	c.reply(&Message{Type: MessageTypeError, Error: text, Timestamp: time.Now().UTC()})
}

// reply 直接写入发送队列。send 只会在 Run 协程注销本连接后关闭，而注销发生在 readPump 退出之后。
func (c *Client) reply(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.ID]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
