package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// Hub fans "table changed" signals out to open websocket connections.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is advisory; any origin may listen.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeWS upgrades the request and keeps the connection registered until the
// peer goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Debug().Int("connections", n).Msg("websocket client connected")

	// Read pump exists only to observe the close.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast writes the table name to every open connection. Dead
// connections are dropped on write failure.
func (h *Hub) Broadcast(table string) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, []byte(table)); err != nil {
			h.drop(c)
		}
	}
}

// Listen subscribes to the Redis change channel and broadcasts every
// received table name until ctx is done.
func (h *Hub) Listen(ctx context.Context, client *redis.Client, channel string) {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(msg.Payload)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		_ = conn.Close()
	}
	h.mu.Unlock()
}
