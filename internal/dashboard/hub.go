package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"wsa/simfeed/internal/telemetry"
	"wsa/simfeed/pkg/logger"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 看板页面与服务可能不同源
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client 单个 websocket 连接，只接收所订阅看板的事件
type client struct {
	conn      *websocket.Conn
	dashboard string
	send      chan []byte
	limiter   *rate.Limiter
}

// Hub websocket 推送中心
// 每个连接独立限流，超出速率或发送缓冲已满的事件直接丢弃
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	limit   rate.Limit
	burst   int
	dropped *atomic.Uint64
	logger  logger.Logger
}

// NewHub 创建 Hub，every 为单连接最小推送间隔（0 表示不限流）
func NewHub(every time.Duration, burst int, log logger.Logger) *Hub {
	limit := rate.Inf
	if every > 0 {
		limit = rate.Every(every)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		limit:   limit,
		burst:   burst,
		dropped: atomic.NewUint64(0),
		logger:  log,
	}
}

// Publish 将事件推送给订阅该看板的连接（非阻塞）
func (h *Hub) Publish(event telemetry.Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorf(logger.With(context.Background(), logger.KeyDashboard, event.Dashboard),
			"[Hub] marshal %s event failed: %v", event.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.dashboard != event.Dashboard {
			continue
		}
		if !c.limiter.Allow() {
			h.dropped.Inc()
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.dropped.Inc()
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped 被限流或缓冲满丢弃的消息数
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Serve 升级连接并阻塞直到断开；initial 非 nil 时作为首条消息发送
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, dashboard string, initial interface{}) {
	ctx := logger.With(r.Context(), logger.KeyDashboard, dashboard)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf(ctx, "[Hub] upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:      conn,
		dashboard: dashboard,
		send:      make(chan []byte, sendBuffer),
		limiter:   rate.NewLimiter(h.limit, h.burst),
	}

	if initial != nil {
		if msg, err := json.Marshal(initial); err == nil {
			c.send <- msg
		}
	}

	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Infof(ctx, "[Hub] client connected: %s", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()

	h.readPump(c)
	h.unregister(c)
	<-done
	h.logger.Infof(ctx, "[Hub] client disconnected: %s", r.RemoteAddr)
}

// Close 断开全部连接
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump 只处理控制帧，读失败即视为断开
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugf(context.Background(), "[Hub] read error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
