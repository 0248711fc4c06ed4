package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"snowgoose-backend/internal/services"
)

const writeWait = 10 * time.Second

// TokenParser verifies an access token and returns the user it belongs to.
type TokenParser interface {
	ParseToken(tokenStr string) (uuid.UUID, string, error)
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Hub fans out per-user Redis messages, such as balance updates after a
// chat turn is billed, to that user's open sockets.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*conn
	redisClient *redis.Client
	auth        TokenParser
	upgrader    websocket.Upgrader
	cancelFuncs map[uuid.UUID]context.CancelFunc
	logger      *zap.Logger
}

func NewHub(redisClient *redis.Client, auth TokenParser, allowedOrigin string, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*conn),
		redisClient: redisClient,
		auth:        auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		logger:      logger.Named("ws"),
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on a websocket handshake.
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, _, err := h.auth.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{ws: ws}
	h.registerConnection(userID, c)

	// Reads only detect the disconnect.
	go func() {
		defer h.unregisterConnection(userID, c)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) registerConnection(userID uuid.UUID, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[userID] = append(h.connections[userID], c)

	// First socket for this user starts the subscription.
	if len(h.connections[userID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[userID] = cancel
		go h.subscribe(ctx, userID)
	}

	h.logger.Info("websocket connected",
		zap.String("user_id", userID.String()),
		zap.Int("connections", len(h.connections[userID])))
}

func (h *Hub) unregisterConnection(userID uuid.UUID, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.ws.Close()

	conns := h.connections[userID]
	for i, existing := range conns {
		if existing == c {
			h.connections[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[userID]) == 0 {
		delete(h.connections, userID)
		if cancel, ok := h.cancelFuncs[userID]; ok {
			cancel()
			delete(h.cancelFuncs, userID)
		}
	}

	h.logger.Info("websocket disconnected", zap.String("user_id", userID.String()))
}

func (h *Hub) subscribe(ctx context.Context, userID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, services.UpdatesChannel(userID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(userID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	conns := append([]*conn(nil), h.connections[userID]...)
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(data); err != nil {
			h.logger.Debug("websocket write failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
}

// Connections reports how many sockets a user has open on this instance.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}
