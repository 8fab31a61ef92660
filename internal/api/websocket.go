// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage 推送给客户端的消息
type WebSocketMessage struct {
	Type        string      `json:"type"`
	CharacterID string      `json:"characterId,omitempty"`
	ChatID      string      `json:"chatId,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// WebSocketClient 一个订阅会话场景的连接
type WebSocketClient struct {
	conn      *websocket.Conn
	ref       models.SessionRef
	userID    string
	send      chan []byte
	lastPing  atomic.Int64
	createdAt time.Time
}

func newWebSocketClient(conn *websocket.Conn, ref models.SessionRef, userID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		ref:       ref,
		userID:    userID,
		send:      make(chan []byte, sendBufferSize),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// UpdatePing 记录最近一次活动
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 超过 timeout 没有活动
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// WebSocketManager 按会话（角色/聊天室）分组的连接
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{}
	closed      bool
	mutex       sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once

	pingTimeout time.Duration
	logger      *utils.Logger
}

// NewWebSocketManager 创建管理器并启动清理循环
func NewWebSocketManager() *WebSocketManager {
	manager := &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		done:        make(chan struct{}),
		pingTimeout: 2 * pongWait,
		logger:      utils.GetLogger().With("websocket", nil),
	}
	go manager.run()
	return manager
}

// run 定期清理过期连接，直到 Close
func (manager *WebSocketManager) run() {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-cleanupTicker.C:
			manager.cleanupExpiredConnections()
		case <-manager.done:
			return
		}
	}
}

// Register 注册新客户端，管理器已关闭时返回 false
func (manager *WebSocketManager) Register(client *WebSocketClient) bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.closed {
		return false
	}
	key := client.ref.Key()
	if manager.connections[key] == nil {
		manager.connections[key] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[key][client] = struct{}{}

	manager.logger.Info("✅ WebSocket 客户端已连接", map[string]interface{}{"session": key, "user": client.userID})
	return true
}

// Unregister 移除客户端并关闭其发送队列，写协程随后退出
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.removeLocked(client)
}

func (manager *WebSocketManager) removeLocked(client *WebSocketClient) {
	key := client.ref.Key()
	connections, ok := manager.connections[key]
	if !ok {
		return
	}
	if _, ok := connections[client]; !ok {
		return
	}
	delete(connections, client)
	if len(connections) == 0 {
		delete(manager.connections, key)
	}
	close(client.send)

	manager.logger.Info("🔌 WebSocket 客户端已断开连接", map[string]interface{}{"session": key, "user": client.userID})
}

// cleanupExpiredConnections 清理长时间没有心跳的连接
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, connections := range manager.connections {
		for client := range connections {
			if client.IsExpired(manager.pingTimeout) {
				manager.removeLocked(client)
			}
		}
	}
}

// shutdown 关闭所有连接
func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	manager.closed = true
	for _, connections := range manager.connections {
		for client := range connections {
			manager.removeLocked(client)
		}
	}
	manager.logger.Info("✅ WebSocket 管理器已关闭", nil)
}

// Close 断开所有客户端并停止主循环。返回后 Register 一律失败
func (manager *WebSocketManager) Close() {
	manager.closeOnce.Do(func() {
		manager.shutdown()
		close(manager.done)
	})
}

// BroadcastScene 向订阅该会话的客户端推送场景事件，空 ref 推送给所有客户端
func (manager *WebSocketManager) BroadcastScene(ref models.SessionRef, event string, payload interface{}) {
	msg := WebSocketMessage{
		Type:        event,
		CharacterID: ref.CharacterID,
		ChatID:      ref.ChatID,
		Data:        payload,
		Timestamp:   time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		manager.logger.Error("❌ 序列化广播消息失败", map[string]interface{}{"error": err.Error()})
		return
	}

	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	if !ref.Valid() {
		for _, connections := range manager.connections {
			manager.deliverLocked(connections, data)
		}
		return
	}
	manager.deliverLocked(manager.connections[ref.Key()], data)
}

// deliverLocked 非阻塞写入发送队列，队列满的客户端被断开
func (manager *WebSocketManager) deliverLocked(connections map[*WebSocketClient]struct{}, data []byte) {
	for client := range connections {
		select {
		case client.send <- data:
		default:
			manager.logger.Warn("⚠️ 客户端消息队列已满，断开连接", map[string]interface{}{
				"session": client.ref.Key(),
				"user":    client.userID,
			})
			go client.conn.Close()
		}
	}
}

// sendTo 只发给一个客户端
func (manager *WebSocketManager) sendTo(client *WebSocketClient, msg WebSocketMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	if _, ok := manager.connections[client.ref.Key()][client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make(map[string]interface{})
	total := 0
	for key, connections := range manager.connections {
		users := make([]interface{}, 0, len(connections))
		for client := range connections {
			users = append(users, map[string]interface{}{
				"user_id":      client.userID,
				"connected_at": client.createdAt.Format(time.RFC3339),
				"last_ping":    time.Unix(0, client.lastPing.Load()).Format(time.RFC3339),
			})
		}
		sessions[key] = map[string]interface{}{
			"client_count": len(connections),
			"users":        users,
		}
		total += len(connections)
	}

	return map[string]interface{}{
		"total_sessions":    len(manager.connections),
		"total_connections": total,
		"sessions":          sessions,
	}
}
