// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/SceneChronicle/internal/conversation"
	"github.com/Corphon/SceneChronicle/internal/utils"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 256
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	conn       *websocket.Conn
	scenarioID string
	send       chan []byte
	closed     int32 // 0=开启，1=关闭
	closeOnce  sync.Once
	createdAt  time.Time
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	client.closeOnce.Do(func() {
		atomic.StoreInt32(&client.closed, 1)
		close(client.send)
	})
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// Hub pushes session events to the WebSocket clients of each scenario.
// It implements conversation.Listener.
type Hub struct {
	connections map[string]map[*WebSocketClient]struct{} // scenarioID -> clients
	mutex       sync.RWMutex
	logger      *utils.Logger
}

// NewHub 创建 WebSocket 广播中心
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		logger:      utils.GetLogger(),
	}
}

func (h *Hub) register(client *WebSocketClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.connections[client.scenarioID] == nil {
		h.connections[client.scenarioID] = make(map[*WebSocketClient]struct{})
	}
	h.connections[client.scenarioID][client] = struct{}{}
	h.logger.Debug("WebSocket client connected", map[string]interface{}{"scenario_id": client.scenarioID})
}

func (h *Hub) unregister(client *WebSocketClient) {
	h.mutex.Lock()
	if clients, exists := h.connections[client.scenarioID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.connections, client.scenarioID)
		}
	}
	h.mutex.Unlock()

	client.Close()
	h.logger.Debug("WebSocket client disconnected", map[string]interface{}{"scenario_id": client.scenarioID})
}

// OnEvent broadcasts e to the clients of its scenario. Slow clients whose
// queue is full are dropped.
func (h *Hub) OnEvent(e conversation.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("Failed to encode event", map[string]interface{}{"error": err.Error()})
		return
	}
	h.BroadcastToScenario(e.ScenarioID, payload)
}

// BroadcastToScenario 向指定场景的所有连接发送原始消息
func (h *Hub) BroadcastToScenario(scenarioID string, payload []byte) {
	h.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(h.connections[scenarioID]))
	for client := range h.connections[scenarioID] {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if !h.trySend(client, payload) {
			h.logger.Warn("WebSocket client queue full, dropping client", map[string]interface{}{"scenario_id": scenarioID})
			h.unregister(client)
		}
	}
}

// trySend 非阻塞发送；客户端已关闭时视为成功
func (h *Hub) trySend(client *WebSocketClient, payload []byte) (ok bool) {
	defer func() {
		// send 可能在检查之后被关闭
		if recover() != nil {
			ok = true
		}
	}()
	if client.IsClosed() {
		return true
	}
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// Status 获取连接状态
func (h *Hub) Status() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	scenarios := make(map[string]int, len(h.connections))
	total := 0
	for id, clients := range h.connections {
		scenarios[id] = len(clients)
		total += len(clients)
	}
	return map[string]interface{}{
		"total_scenarios":   len(h.connections),
		"total_connections": total,
		"scenarios":         scenarios,
	}
}

// Close 关闭所有连接
func (h *Hub) Close() {
	h.mutex.Lock()
	all := h.connections
	h.connections = make(map[string]map[*WebSocketClient]struct{})
	h.mutex.Unlock()

	for _, clients := range all {
		for client := range clients {
			client.Close()
		}
	}
}
