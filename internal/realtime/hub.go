package realtime

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GreyyDaze/orbit-server/internal/events"
	"github.com/GreyyDaze/orbit-server/pkg/logger"
	"github.com/GreyyDaze/orbit-server/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16 // 64 KiB, subscribers only send pings

	sendBufferSize = 64
)

// Message is the frame delivered to board subscribers.
type Message struct {
	Group   string `json:"group"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub fans domain events out to websocket subscribers grouped by board.
// It implements events.Sink so services can stay unaware of transport.
type Hub struct {
	mu       sync.RWMutex
	groups   map[string]map[*connection]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		groups: make(map[string]map[*connection]struct{}),
		log:    logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
			},
		},
	}
}

// Publish implements events.Sink. Delivery is best-effort: a subscriber
// that cannot keep up is dropped rather than allowed to stall the rest.
func (h *Hub) Publish(group string, event events.Event) {
	group = normalizeGroup(group)
	if group == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers := h.groups[group]
	if len(subscribers) == 0 {
		return
	}

	message := Message{Group: group, Type: event.Type, Payload: event.Payload}
	for client := range subscribers {
		select {
		case client.send <- message:
		default:
			h.log.Warn("dropping slow subscriber", zap.String("group", group))
			go client.close()
		}
	}
}

// Serve upgrades the HTTP connection and subscribes it to the given group
// until the peer disconnects. Authorization must happen before calling.
func (h *Hub) Serve(group string, w http.ResponseWriter, r *http.Request) {
	group = normalizeGroup(group)
	if group == "" {
		http.Error(w, "missing group", http.StatusBadRequest)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &connection{
		hub:    h,
		socket: socket,
		group:  group,
		send:   make(chan Message, sendBufferSize),
	}
	h.register(client)

	go client.writeLoop()
	client.readLoop()
}

// SubscriberCount reports how many connections listen on a group.
func (h *Hub) SubscriberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[normalizeGroup(group)])
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[client.group] == nil {
		h.groups[client.group] = make(map[*connection]struct{})
	}
	h.groups[client.group][client] = struct{}{}
	metrics.RealtimeSubscribers.Inc()
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.groups[client.group]
	if !ok {
		return
	}
	if _, present := subscribers[client]; !present {
		return
	}

	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.groups, client.group)
	}
	metrics.RealtimeSubscribers.Dec()
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	group  string
	send   chan Message
	once   sync.Once
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Subscribers are read-only; inbound frames just refresh the deadline.
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("group", c.group), zap.Error(err))
			}
			return
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.send)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeGroup(group string) string {
	return strings.ToLower(strings.TrimSpace(group))
}
