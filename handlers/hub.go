package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub 管理WebSocket连接的中心，按会话ID分组
type Hub struct {
	// 分组存储的客户端连接，按会话ID组织
	clients map[uint]map[*Client]bool

	// 添加新客户端的注册通道
	register chan *Client

	// 删除客户端的注销通道
	unregister chan *Client

	// 广播特定会话的结果更新
	broadcast chan *BroadcastMessage

	// 锁，用于保护clients字典
	mu sync.RWMutex

	// 定期清理不活跃连接
	expireTicker *time.Ticker
}

// Client 表示一个WebSocket客户端连接
type Client struct {
	hub *Hub

	conn *websocket.Conn

	// 发送消息的通道
	send chan []byte

	// 客户端关注的会话ID
	sessionID uint

	// 客户端上次活动时间
	lastActivity time.Time
}

// BroadcastMessage 定义广播消息的结构
type BroadcastMessage struct {
	SessionID uint        `json:"session_id"`
	Results   interface{} `json:"results"`
}

// 定义WebSocket升级器
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 允许所有CORS请求，生产环境应限制
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub 创建未启动的Hub，调用方负责go hub.Run()
func NewHub() *Hub {
	return &Hub{
		clients:      make(map[uint]map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan *BroadcastMessage),
		expireTicker: time.NewTicker(5 * time.Minute),
	}
}

// Run 运行Hub处理循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.sessionID]; !ok {
				h.clients[client.sessionID] = make(map[*Client]bool)
			}
			h.clients[client.sessionID][client] = true
			connCount := len(h.clients[client.sessionID])
			h.mu.Unlock()

			log.Printf("新WebSocket客户端已连接 [会话: %d, 连接数: %d]", client.sessionID, connCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.sessionID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					log.Printf("WebSocket客户端已断开 [会话: %d, 连接数: %d]", client.sessionID, len(clients))
					if len(clients) == 0 {
						delete(h.clients, client.sessionID)
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message.Results)
			if err != nil {
				log.Printf("序列化广播消息失败: %v", err)
				continue
			}

			h.mu.Lock()
			for client := range h.clients[message.SessionID] {
				select {
				case client.send <- data:
				default:
					// 客户端缓冲区已满，放弃该连接
					close(client.send)
					delete(h.clients[message.SessionID], client)
				}
			}
			h.mu.Unlock()

		case <-h.expireTicker.C:
			h.closeIdleClients(30 * time.Minute)
		}
	}
}

// closeIdleClients 清理长时间不活跃的连接
func (h *Hub) closeIdleClients(timeout time.Duration) {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, clients := range h.clients {
		for client := range clients {
			if client.lastActivity.Add(timeout).Before(now) {
				log.Printf("关闭不活跃的WebSocket连接 [会话: %d]", sessionID)
				delete(clients, client)
				close(client.send)
			}
		}
		if len(clients) == 0 {
			delete(h.clients, sessionID)
		}
	}
}

// Broadcast 将会话的最新结果推送给所有关注的客户端
func (h *Hub) Broadcast(sessionID uint, results interface{}) {
	h.broadcast <- &BroadcastMessage{SessionID: sessionID, Results: results}
}

// readPump 读取循环：丢弃客户端消息，仅用于感知断连和活跃度
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.lastActivity = time.Now()
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket读取错误: %v", err)
			}
			return
		}
		c.lastActivity = time.Now()
	}
}

// writePump 写入循环：转发广播数据并定期发送ping
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
