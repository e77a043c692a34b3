package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	clientBuffer = 32
)

// PriceUpdate is pushed to every client of the stock's classroom
type PriceUpdate struct {
	StockID   string    `json:"stockId"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	IsActive  bool      `json:"isActive"`
	Timestamp time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type priceClient struct {
	teacherID string
	send      chan PriceUpdate
}

// Hub fans price changes out to the websocket clients of each classroom
type Hub struct {
	mu      sync.RWMutex
	clients map[*priceClient]struct{}
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*priceClient]struct{}),
		log:     log.With().Str("component", "price_hub").Logger(),
	}
}

// PublishPrice sends the stock's new state to its classroom. Clients whose
// buffer is full miss the update rather than block the publisher.
func (h *Hub) PublishPrice(stock models.Stock) {
	update := PriceUpdate{
		StockID:   stock.ID,
		Code:      stock.Code,
		Name:      stock.Name,
		Price:     stock.CurrentPrice,
		IsActive:  stock.IsActive,
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.teacherID != stock.TeacherID {
			continue
		}
		select {
		case c.send <- update:
		default:
			h.log.Warn().Str("teacher_id", c.teacherID).Str("code", stock.Code).Msg("client too slow, update dropped")
		}
	}
}

func (h *Hub) register(teacherID string) *priceClient {
	c := &priceClient{teacherID: teacherID, send: make(chan PriceUpdate, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *priceClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and streams the classroom's price updates
// until the client goes away
func (h *Hub) Serve(c *gin.Context, teacherID string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	client := h.register(teacherID)
	defer h.unregister(client)
	h.log.Info().Str("teacher_id", teacherID).Msg("price feed client connected")

	// reader: only needed to notice close frames and keep pongs flowing
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			h.log.Info().Str("teacher_id", teacherID).Msg("price feed client disconnected")
			return

		case update := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(update); err != nil {
				h.log.Warn().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
