// Package live 员工端实时推送（websocket），按租户分组广播
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"loyaltyhub/internal/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub 维护所有在线连接，每个租户一组
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[string]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uint]map[string]*client)}
}

type client struct {
	id    string
	orgID uint
	conn  *websocket.Conn
	send  chan []byte
}

// Publish 广播给租户下所有连接；发送缓冲满的连接直接断开
func (h *Hub) Publish(orgID uint, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.L().Error().Err(err).Msg("marshal live event")
		return
	}
	h.mu.RLock()
	var slow []*client
	for _, c := range h.clients[orgID] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.unregister(c)
	}
}

// Connections 租户当前在线连接数
func (h *Hub) Connections(orgID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[orgID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.clients[c.orgID]
	if !ok {
		group = make(map[string]*client)
		h.clients[c.orgID] = group
	}
	group[c.id] = c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.clients[c.orgID]
	if _, ok := group[c.id]; !ok {
		return
	}
	delete(group, c.id)
	if len(group) == 0 {
		delete(h.clients, c.orgID)
	}
	close(c.send)
}

// Serve 升级为 websocket 并注册到租户组，调用方负责鉴权
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, orgID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{id: uuid.NewString(), orgID: orgID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	logger.Ctx(r.Context()).Info().Str("conn_id", c.id).Msg("live feed connected")

	go c.writePump()
	go func() {
		c.readPump()
		h.unregister(c)
	}()
}

// readPump 只处理 pong 和关闭，客户端发来的内容丢弃
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
