package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 测试配置
var (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080"
	APIPrefix = "/api/v1"                        // API 路由前缀
	JWTSecret = "your-super-secret-jwt-key-here" // ⚠️ 改成测试环境的 JWT_SECRET
)

// TestUser 测试用户
type TestUser struct {
	ID    uuid.UUID
	Token string
}

// generateJWT 生成 JWT Token
func generateJWT(userID uuid.UUID) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// createTestUser 创建测试用户
func createTestUser() *TestUser {
	userID := uuid.New()
	return &TestUser{
		ID:    userID,
		Token: generateJWT(userID),
	}
}

// httpRequest HTTP 请求辅助函数
func httpRequest(method, path, token string, body interface{}) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, BaseURL+path, bodyReader)
	if err != nil {
		return nil, nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, respBody, err
}

// connectWebSocket 连接到指定会话的 WebSocket
// 返回握手响应，连接被拒绝时调用方可以检查状态码
func connectWebSocket(token, conversationID string) (*websocket.Conn, *http.Response, error) {
	url := fmt.Sprintf("%s/ws?token=%s&conversation_id=%s", WSURL, token, conversationID)
	return websocket.DefaultDialer.Dial(url, nil)
}

// wsSend WebSocket 发送消息
func wsSend(conn *websocket.Conn, msgType string, data interface{}) error {
	msg := map[string]interface{}{
		"type": msgType,
		"data": data,
	}
	return conn.WriteJSON(msg)
}

// wsSendText 发送一条文本聊天消息
func wsSendText(conn *websocket.Conn, content string) error {
	return wsSend(conn, "message", map[string]interface{}{"content": content})
}

// wsReceive WebSocket 接收消息（带超时）
func wsReceive(conn *websocket.Conn, timeout time.Duration) (map[string]interface{}, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	var msg map[string]interface{}
	err := conn.ReadJSON(&msg)
	return msg, err
}

// wsReceiveMessageType 接收指定类型的 WebSocket 消息
// 跳过其他类型的消息，最多尝试 maxAttempts 次
func wsReceiveMessageType(conn *websocket.Conn, msgType string, timeout time.Duration, maxAttempts int) (map[string]interface{}, error) {
	for i := 0; i < maxAttempts; i++ {
		msg, err := wsReceive(conn, timeout)
		if err != nil {
			return nil, err
		}
		if msg["type"] == msgType {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("did not receive message type '%s' after %d attempts", msgType, maxAttempts)
}

// parseResponse 解析 HTTP 响应为 map（统一响应格式）
func parseResponse(body []byte) map[string]interface{} {
	var response struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Data    map[string]interface{} `json:"data"`
	}
	json.Unmarshal(body, &response)
	if response.Data != nil {
		return response.Data
	}
	// 如果没有 data 字段，返回整个响应（用于错误情况）
	var result map[string]interface{}
	json.Unmarshal(body, &result)
	return result
}

// sendFriendRequest 发起好友请求，返回 HTTP 状态码和 friendship_id
func sendFriendRequest(requester *TestUser, recipientID uuid.UUID) (int, string) {
	resp, body, err := httpRequest("POST", APIPrefix+"/friends/requests", requester.Token, map[string]interface{}{
		"recipient_id": recipientID.String(),
	})
	if err != nil {
		return 0, ""
	}

	result := parseResponse(body)
	friendshipID, _ := result["friendship_id"].(string)
	return resp.StatusCode, friendshipID
}

// resolveFriendRequest 处理好友请求，返回 HTTP 状态码
func resolveFriendRequest(actor *TestUser, friendshipID, decision string) (int, map[string]interface{}) {
	resp, body, err := httpRequest("POST", APIPrefix+"/friends/requests/"+friendshipID+"/resolve", actor.Token,
		map[string]interface{}{"decision": decision})
	if err != nil {
		return 0, nil
	}
	return resp.StatusCode, parseResponse(body)
}

// makeFriends A 向 B 发起请求、B 接受，返回 friendshipID（即会话 ID）
func makeFriends(a, b *TestUser) (string, error) {
	status, friendshipID := sendFriendRequest(a, b.ID)
	if status != 200 || friendshipID == "" {
		return "", fmt.Errorf("failed to create friend request, status=%d", status)
	}

	status, _ = resolveFriendRequest(b, friendshipID, "accepted")
	if status != 200 {
		return "", fmt.Errorf("failed to accept friend request, status=%d", status)
	}

	return friendshipID, nil
}

// getRelationships 获取关系总览（pending + friends）
func getRelationships(token string) (map[string]interface{}, error) {
	resp, body, err := httpRequest("GET", APIPrefix+"/friends", token, nil)
	if err != nil || resp.StatusCode != 200 {
		return nil, fmt.Errorf("failed to get relationships")
	}
	return parseResponse(body), nil
}

// getHistory 拉取会话历史，返回状态码和消息列表
func getHistory(token, conversationID string, sinceSeq int64) (int, []interface{}) {
	path := fmt.Sprintf("%s/conversations/%s/messages?since_seq=%d&limit=200", APIPrefix, conversationID, sinceSeq)
	resp, body, err := httpRequest("GET", path, token, nil)
	if err != nil {
		return 0, nil
	}

	result := parseResponse(body)
	messages, _ := result["messages"].([]interface{})
	return resp.StatusCode, messages
}
