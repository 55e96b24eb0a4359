package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"pally_chat/middleware"
	"pally_chat/service"
	"pally_chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: 生产环境需要检查 Origin
		return true
	},
}

// Client WebSocket 客户端，一条连接绑定一个会话（room）
type Client struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ConversationID uuid.UUID
	Conn           *websocket.Conn
	Send           chan []byte
	Hub            *Hub

	mu     sync.Mutex
	closed bool // Send channel 是否已关闭
}

// room 单个会话的在线订阅者集合
// sendMu 在"持久化→广播"整个链路上持有，保证同一会话的广播顺序和落库顺序一致；
// mu 只保护订阅者集合本身。锁顺序：sendMu → mu。
type room struct {
	mu      sync.RWMutex
	sendMu  sync.Mutex
	clients map[uuid.UUID]*Client
}

// Hub WebSocket 连接管理中心
// 按会话（conversationID）组织订阅者，首个订阅者进入时创建 room，
// 最后一个离开时销毁；不同会话之间没有任何共享锁。
type Hub struct {
	rooms map[uuid.UUID]*room
	mu    sync.RWMutex

	// 每个用户当前的本地连接数（用于在线状态的上下线判定）
	userConns map[uuid.UUID]int

	// Redis 客户端（在线状态 + 跨 Pod 广播）
	rdb *redis.Client

	// 消息服务
	msgSvc *service.MessageService

	// 好友关系服务（连接鉴权）
	friendSvc *service.FriendshipService

	// Pod ID（用于跨 Pod 广播去重）
	podID string

	// 停止 Pub/Sub 订阅
	stopPubSub chan struct{}
}

// Redis Pub/Sub channel 名称
const redisRoomChannel = "ws:room_broadcast"

// RoomBroadcast 跨 Pod 广播消息格式
type RoomBroadcast struct {
	ConversationID string `json:"conversation_id"`
	PodID          string `json:"pod_id"` // 发送方 Pod ID，用于去重
	Payload        []byte `json:"payload"`
}

// NewHub 创建 Hub
func NewHub(rdb *redis.Client, friendSvc *service.FriendshipService, msgSvc *service.MessageService) *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]*room),
		userConns:  make(map[uuid.UUID]int),
		rdb:        rdb,
		msgSvc:     msgSvc,
		friendSvc:  friendSvc,
		podID:      uuid.New().String(), // 每个 Pod 实例唯一 ID
		stopPubSub: make(chan struct{}),
	}
}

// Register 把客户端加入其会话的 room，并维护在线状态
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	r, ok := h.rooms[client.ConversationID]
	if !ok {
		r = &room{clients: make(map[uuid.UUID]*Client)}
		h.rooms[client.ConversationID] = r
	}

	// room 的创建/销毁都在 h.mu 下进行，加入成员也必须在 h.mu 下完成，
	// 否则可能把成员挂到一个刚被并发销毁的 room 上
	r.mu.Lock()
	r.clients[client.ID] = client
	subscribers := len(r.clients)
	r.mu.Unlock()

	h.userConns[client.UserID]++
	isFirstDevice := h.userConns[client.UserID] == 1
	h.mu.Unlock()

	// 在线状态（不持有锁的情况下进行 Redis 操作）
	if h.rdb != nil && isFirstDevice {
		ctx := context.Background()
		h.rdb.Set(ctx, "online:"+client.UserID.String(), "1", 30*time.Second)
	}

	log.Printf("User %s joined conversation %s (client: %s), subscribers: %d",
		client.UserID, client.ConversationID, client.ID, subscribers)
}

// Unregister 把客户端移出 room，room 空了就销毁
// 可能被重复调用（读协程退出 + 广播失败剔除），必须幂等。
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	r, ok := h.rooms[client.ConversationID]
	if !ok {
		h.mu.Unlock()
		client.closeSend()
		return
	}

	r.mu.Lock()
	_, found := r.clients[client.ID]
	if found {
		delete(r.clients, client.ID)
	}
	empty := len(r.clients) == 0
	r.mu.Unlock()

	if empty {
		delete(h.rooms, client.ConversationID)
	}

	lastDevice := false
	if found {
		h.userConns[client.UserID]--
		if h.userConns[client.UserID] <= 0 {
			delete(h.userConns, client.UserID)
			lastDevice = true
		}
	}
	h.mu.Unlock()

	if !found {
		client.closeSend()
		return
	}

	// 最后一个设备断开时清理在线状态
	if h.rdb != nil && lastDevice {
		ctx := context.Background()
		h.rdb.Del(ctx, "online:"+client.UserID.String())
	}

	log.Printf("User %s left conversation %s (client: %s)",
		client.UserID, client.ConversationID, client.ID)

	client.closeSend()
}

// closeSend 安全关闭 Send channel
func (c *Client) closeSend() {
	c.mu.Lock()
	if !c.closed {
		close(c.Send)
		c.closed = true
	}
	c.mu.Unlock()
}

// trySend 非阻塞投递，通道已关闭或已满时返回 false
// 和 closeSend 共用 c.mu，避免往已关闭的通道写入
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// getRoom 查找会话的 room，不存在返回 nil
func (h *Hub) getRoom(conversationID uuid.UUID) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[conversationID]
}

// PublishMessage 持久化消息并按落库顺序广播给会话内所有在线订阅者
// 持久化失败不广播，错误只回给发送方；广播失败只影响出问题的那条连接。
func (h *Hub) PublishMessage(sender *Client, content string) {
	r := h.getRoom(sender.ConversationID)
	if r == nil {
		// 发送方自己都不在 room 里，说明连接已经在注销流程中
		sender.sendError("connection is no longer subscribed")
		return
	}

	// 整个"落库→广播"链路串行化，广播顺序即 seq 顺序
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	message, err := h.msgSvc.Append(sender.UserID, sender.ConversationID, content)
	if err != nil {
		log.Printf("[ERROR] Failed to append message: user=%s, conversation=%s: %v",
			sender.UserID, sender.ConversationID, err)
		sender.sendError(err.Error())
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type": "message",
		"data": message,
	})
	if err != nil {
		log.Printf("[ERROR] Failed to marshal message %s: %v", message.ID, err)
		return
	}

	h.deliverToRoom(r, payload)

	// 发布到 Redis，让其他 Pod 上订阅了该会话的连接也能收到
	h.publishToPods(sender.ConversationID, payload)
}

// deliverToRoom 本地投递：发给 room 内所有订阅者（包括发送方自己的其他设备）
// 单个订阅者投递失败（channel 满）只剔除该订阅者，不影响其余投递。
func (h *Hub) deliverToRoom(r *room, payload []byte) {
	r.mu.RLock()
	clientsCopy := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clientsCopy = append(clientsCopy, client)
	}
	r.mu.RUnlock()

	for _, client := range clientsCopy {
		if !client.trySend(payload) {
			// 发送通道满了（或连接已在关闭流程中），剔除该连接
			log.Printf("[ERROR] Send channel FULL: user=%s, client=%s, dropping subscriber",
				client.UserID, client.ID)
			go h.Unregister(client)
		}
	}
}

// publishToPods 把广播发布到 Redis Pub/Sub（跨 Pod）
func (h *Hub) publishToPods(conversationID uuid.UUID, payload []byte) {
	if h.rdb == nil {
		return
	}

	broadcast := RoomBroadcast{
		ConversationID: conversationID.String(),
		PodID:          h.podID,
		Payload:        payload,
	}
	msgBytes, err := json.Marshal(broadcast)
	if err != nil {
		log.Printf("[ERROR] Failed to marshal room broadcast: %v", err)
		return
	}

	ctx := context.Background()
	if err := h.rdb.Publish(ctx, redisRoomChannel, msgBytes).Err(); err != nil {
		log.Printf("[ERROR] Failed to publish to Redis: %v", err)
	}
}

// StartPubSub 启动 Redis Pub/Sub 订阅（跨 Pod 消息广播）
func (h *Hub) StartPubSub() {
	go func() {
		ctx := context.Background()
		pubsub := h.rdb.Subscribe(ctx, redisRoomChannel)
		defer pubsub.Close()

		log.Printf("[INFO] Pod %s started Redis Pub/Sub subscription", h.podID[:8])

		ch := pubsub.Channel()
		for {
			select {
			case <-h.stopPubSub:
				log.Printf("[INFO] Pod %s stopping Redis Pub/Sub subscription", h.podID[:8])
				return
			case msg := <-ch:
				if msg == nil {
					continue
				}
				h.handleRoomBroadcast([]byte(msg.Payload))
			}
		}
	}()
}

// StopPubSub 停止 Redis Pub/Sub 订阅
func (h *Hub) StopPubSub() {
	close(h.stopPubSub)
}

// handleRoomBroadcast 处理来自其他 Pod 的广播消息
func (h *Hub) handleRoomBroadcast(data []byte) {
	var broadcast RoomBroadcast
	if err := json.Unmarshal(data, &broadcast); err != nil {
		log.Printf("[ERROR] Failed to unmarshal room broadcast: %v", err)
		return
	}

	// 忽略自己发的消息（避免重复推送）
	if broadcast.PodID == h.podID {
		return
	}

	conversationID, err := uuid.Parse(broadcast.ConversationID)
	if err != nil {
		log.Printf("[ERROR] Invalid conversation ID in room broadcast: %v", err)
		return
	}

	r := h.getRoom(conversationID)
	if r == nil {
		// 本 Pod 没有该会话的订阅者
		return
	}

	r.sendMu.Lock()
	h.deliverToRoom(r, broadcast.Payload)
	r.sendMu.Unlock()
}

// SubscriberCount 会话当前的本地订阅者数量
func (h *Hub) SubscriberCount(conversationID uuid.UUID) int {
	r := h.getRoom(conversationID)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IsUserOnline 检查用户是否在线（至少有一个设备在线）
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userConns[userID] > 0
}

// WSMessage WebSocket 消息格式
type WSMessage struct {
	Type string          `json:"type"` // 'message' | 'heartbeat'
	Data json.RawMessage `json:"data"`
}

// HandleWebSocket 处理 WebSocket 连接
// 连接即订阅：?token=...&conversation_id=...，鉴权通过后加入对应 room。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从 query 参数获取 token
		tokenString := c.Query("token")
		if tokenString == "" {
			utils.Unauthorized(c, "missing token")
			return
		}

		userID, err := middleware.ValidateToken(tokenString)
		if err != nil {
			utils.Unauthorized(c, "invalid token")
			return
		}

		conversationID, err := uuid.Parse(c.Query("conversation_id"))
		if err != nil {
			utils.BadRequest(c, "invalid conversation_id")
			return
		}

		// 升级前先鉴权：必须是该会话（accepted 好友关系）的一方
		if err := hub.friendSvc.AuthorizeConversation(conversationID, userID); err != nil {
			respondServiceError(c, err)
			return
		}

		// 升级为 WebSocket 连接
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ERROR] WebSocket upgrade failed for user %s: %v", userID, err)
			return
		}

		client := &Client{
			ID:             uuid.New(),
			UserID:         userID,
			ConversationID: conversationID,
			Conn:           conn,
			Send:           make(chan []byte, 1024), // 增加缓冲区，应对高并发场景
			Hub:            hub,
		}

		hub.Register(client)

		go client.readPump()
		go client.writePump()
	}
}

// readPump 从 WebSocket 读取消息
func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				log.Printf("[ERROR] User %s WebSocket unexpected close error: %v", c.UserID, err)
			}
			break
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			log.Printf("[ERROR] Invalid message format: %v", err)
			c.sendError("Invalid JSON format")
			continue
		}

		switch wsMsg.Type {
		case "heartbeat":
			// 心跳消息，刷新在线状态
			if c.Hub.rdb != nil {
				ctx := context.Background()
				c.Hub.rdb.Set(ctx, "online:"+c.UserID.String(), "1", 30*time.Second)
			}

		case "message":
			c.handleChatMessage(wsMsg.Data)
		}
	}
}

// writePump 向 WebSocket 写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			// 发送 ping 保持连接
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleChatMessage 处理发送消息
func (c *Client) handleChatMessage(data json.RawMessage) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[ERROR] Invalid message format: %v", err)
		c.sendError("Invalid message format")
		return
	}

	c.Hub.PublishMessage(c, req.Content)
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	response := map[string]interface{}{
		"type": "error",
		"data": map[string]string{
			"message": errMsg,
		},
	}
	responseData, _ := json.Marshal(response)

	// 非阻塞发送
	if !c.trySend(responseData) {
		log.Printf("[ERROR] Failed to send error message to user %s: channel full", c.UserID)
	}
}
