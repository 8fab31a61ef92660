// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/services"
	"github.com/Corphon/LoreChat/internal/utils"
)

// 客户端可以发送的消息类型
const (
	wsMessagePing     = "ping"
	wsMessageGetScene = "get_scene"
)

// WebSocketHandler 处理 WebSocket 相关的 HTTP 请求
type WebSocketHandler struct {
	manager *WebSocketManager
	scenes  *services.SceneService
	logger  *utils.Logger
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(manager *WebSocketManager, scenes *services.SceneService) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		scenes:  scenes,
		logger:  utils.GetLogger().With("websocket", nil),
	}
}

// SceneWebSocket 订阅会话的场景地图更新
func (wh *WebSocketHandler) SceneWebSocket(c *gin.Context) {
	ref := models.SessionRef{CharacterID: c.Param("char_id"), ChatID: c.Param("chat_id")}
	if !ref.Valid() {
		http.Error(c.Writer, "角色ID或聊天室ID缺失", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wh.logger.Warn("❌ 场景 WebSocket 升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	userID := GetUserFromContext(c)
	if userID == "" {
		userID = "anonymous"
	}
	client := newWebSocketClient(conn, ref, userID)
	if !wh.manager.Register(client) {
		conn.Close()
		return
	}

	go wh.writePump(client)
	wh.sendScene(c, client, "connected")
	wh.readPump(c, client)
}

// readPump 读取客户端消息直到连接断开
func (wh *WebSocketHandler) readPump(c *gin.Context, client *WebSocketClient) {
	defer func() {
		wh.manager.Unregister(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wh.logger.Warn("WebSocket 读取错误", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var message struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &message); err != nil {
			wh.manager.sendTo(client, WebSocketMessage{Type: "error", Error: "无效的消息格式"})
			continue
		}

		switch message.Type {
		case wsMessagePing:
			wh.manager.sendTo(client, WebSocketMessage{Type: "pong"})
		case wsMessageGetScene:
			wh.sendScene(c, client, services.SceneEventUpdated)
		default:
			wh.manager.sendTo(client, WebSocketMessage{Type: "error", Error: "未知的消息类型: " + message.Type})
		}
	}
}

// writePump 发送队列中的消息并定期 ping，队列关闭时退出
func (wh *WebSocketHandler) writePump(client *WebSocketClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendScene 把当前场景地图发给客户端
func (wh *WebSocketHandler) sendScene(c *gin.Context, client *WebSocketClient, event string) {
	msg := WebSocketMessage{Type: event, CharacterID: client.ref.CharacterID, ChatID: client.ref.ChatID}
	m, err := wh.scenes.Map(c.Request.Context(), client.ref)
	if err != nil {
		msg.Error = err.Error()
	} else {
		msg.Data = m
	}
	wh.manager.sendTo(client, msg)
}

// GetStatus 连接状态
func (wh *WebSocketHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, wh.manager.GetStatus())
}
