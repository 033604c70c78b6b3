package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

const writeWait = 5 * time.Second

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// ZoneID ou Ticker: obrigatório para subscribe/unsubscribe
type ClientMsg struct {
	Type   string `json:"type"`
	ZoneID string `json:"zoneId,omitempty"`
	Ticker string `json:"ticker,omitempty"`
}

// OddsMessage é o envelope enviado aos clientes
type OddsMessage struct {
	Type    string                `json:"type"` // "odds"
	Payload events.ZoneOddsUpdate `json:"payload"`
}

// client serializa escritas: o gorilla aceita um único writer por conexão
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Hub gerencia conexões WebSocket e assinaturas de odds por zona ou ticker
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	// "zone:<id>" | "ticker:<TICKER>" -> clientes
	subs map[string]map[*client]struct{}
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(log *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*client]struct{}),
	}
}

// AllowOrigin devolve o CheckOrigin para a origem configurada; "*" libera todas
func AllowOrigin(origin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return origin == "*" || r.Header.Get("Origin") == origin
	}
}

func topicOf(m ClientMsg) string {
	if m.ZoneID != "" {
		return "zone:" + m.ZoneID
	}
	if t := strings.ToUpper(strings.TrimSpace(m.Ticker)); t != "" {
		return "ticker:" + t
	}
	return ""
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.HandleWS(w, r) }

// HandleWS gerencia o ciclo de vida de uma conexão WebSocket
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn}
	defer func() {
		h.drop(c)
		_ = conn.Close()
	}()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			topic := topicOf(msg)
			if topic == "" {
				_ = c.write(map[string]string{"type": "error", "message": "zoneId or ticker required"})
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[topic]; !ok {
				h.subs[topic] = make(map[*client]struct{})
			}
			h.subs[topic][c] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			topic := topicOf(msg)
			h.mu.Lock()
			if m, ok := h.subs[topic]; ok {
				delete(m, c)
				if len(m) == 0 {
					delete(h.subs, topic)
				}
			}
			h.mu.Unlock()
		case "ping":
			_ = c.write(map[string]string{"type": "pong"})
		}
	}
}

// drop remove a conexão de todas as assinaturas
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

// Broadcast envia a atualização para quem assina a zona ou o ticker, uma vez por cliente
func (h *Hub) Broadcast(u events.ZoneOddsUpdate) {
	h.mu.RLock()
	targets := make(map[*client]struct{})
	for _, topic := range []string{"zone:" + u.ZoneID, "ticker:" + strings.ToUpper(u.Ticker)} {
		for c := range h.subs[topic] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	msg := OddsMessage{Type: "odds", Payload: u}
	for c := range targets {
		if err := c.write(msg); err != nil {
			h.log.Debug("ws write failed", zap.String("zoneId", u.ZoneID), zap.Error(err))
		}
	}
}

// Subscribers conta os clientes distintos conectados a algum tópico
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*client]struct{})
	for _, set := range h.subs {
		for c := range set {
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}

// decodeUpdate aceita o payload cru publicado no canal Redis
func decodeUpdate(payload string) (events.ZoneOddsUpdate, error) {
	var u events.ZoneOddsUpdate
	err := json.Unmarshal([]byte(payload), &u)
	return u, err
}
