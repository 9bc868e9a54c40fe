// internal/api/websocket_handlers.go
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/SceneChronicle/internal/conversation"
)

// inbound WebSocket frame
type wsCommand struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ScenarioWebSocket streams the events of one scenario. Clients may also
// send {"type":"ping"} and {"type":"submit","text":"..."}.
func (h *Handler) ScenarioWebSocket(c *gin.Context) {
	scenarioID := c.Param("id")
	session, err := h.Sessions.Get(c.Request.Context(), scenarioID)
	if err != nil {
		h.Response.HandleError(c, "scenario", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{"scenario_id": scenarioID, "error": err.Error()})
		return
	}

	client := &WebSocketClient{
		conn:       conn,
		scenarioID: scenarioID,
		send:       make(chan []byte, sendBuffer),
		createdAt:  time.Now(),
	}
	h.Hub.register(client)
	defer h.Hub.unregister(client)

	go h.handleWebSocketWrites(client)

	h.sendJSON(client, map[string]interface{}{
		"type":        "connected",
		"scenario_id": scenarioID,
		"state":       session.State(),
		"timestamp":   time.Now(),
	})
	h.handleWebSocketReads(client, session)
}

// handleWebSocketReads 处理 WebSocket 读取，直到连接断开
func (h *Handler) handleWebSocketReads(client *WebSocketClient, session *conversation.Session) {
	client.conn.SetReadLimit(64 * 1024)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read failed", map[string]interface{}{"scenario_id": client.scenarioID, "error": err.Error()})
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.sendError(client, "invalid JSON frame")
			continue
		}
		h.handleCommand(client, session, cmd)
	}
}

func (h *Handler) handleCommand(client *WebSocketClient, session *conversation.Session, cmd wsCommand) {
	switch cmd.Type {
	case "ping":
		h.sendJSON(client, map[string]interface{}{"type": "pong", "timestamp": time.Now()})
	case "submit":
		turn, err := session.SubmitUserMessage(context.Background(), cmd.Text)
		if err != nil {
			h.sendError(client, err.Error())
			return
		}
		h.sendJSON(client, map[string]interface{}{
			"type":       "accepted",
			"message_id": turn.User.ID,
			"speaker_id": turn.SpeakerID,
		})
	default:
		h.sendError(client, "unknown frame type "+cmd.Type)
	}
}

// handleWebSocketWrites 处理 WebSocket 写入和心跳
func (h *Handler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(pingInterval)
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

func (h *Handler) sendJSON(client *WebSocketClient, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.Hub.trySend(client, payload)
}

// sendError 发送错误消息到客户端
func (h *Handler) sendError(client *WebSocketClient, msg string) {
	h.sendJSON(client, map[string]interface{}{
		"type":      "error",
		"error":     msg,
		"timestamp": time.Now(),
	})
}
