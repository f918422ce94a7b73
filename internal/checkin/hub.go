// Package checkin streams live scan events to venue dashboards over
// WebSocket. A Redis pub/sub bridge fans events out across instances.
package checkin

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/expopass/backend/internal/models"
)

// Event is one check-in feed message.
type Event struct {
	Type       string      `json:"type"`
	TicketCode string      `json:"ticket_code"`
	EntityType models.Role `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Name       string      `json:"name,omitempty"`
	At         time.Time   `json:"at"`
}

// Publisher publishes feed events to other instances.
type Publisher interface {
	PublishEvent(payload []byte) error
}

// Subscriber receives feed events from other instances.
type Subscriber interface {
	Subscribe(handler func(payload []byte)) (cancel func(), err error)
}

// Hub maintains the connected dashboard clients and broadcasts scan
// events to them, locally and via Redis.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	cancel  func()
	pub     Publisher
	logger  *zap.Logger
}

// NewHub creates a check-in hub. pub and sub may be nil for
// single-instance deployments.
func NewHub(pub Publisher, sub Subscriber, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients: make(map[string]*Client),
		pub:     pub,
		logger:  logger,
	}
	if sub != nil {
		cancel, err := sub.Subscribe(h.broadcastRaw)
		if err != nil {
			logger.Warn("check-in feed subscription failed", zap.Error(err))
		} else {
			h.cancel = cancel
		}
	}
	return h
}

// PublishScan broadcasts a scan event for a resolved registration.
func (h *Hub) PublishScan(reg *models.Registration) {
	name := reg.Field("name")
	if name == "" {
		name = reg.Field("full_name")
	}
	ev := Event{
		Type:       "scan",
		TicketCode: reg.TicketCode,
		EntityType: reg.Role,
		EntityID:   reg.ID.String(),
		Name:       name,
		At:         time.Now(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.broadcastRaw(payload)
	if h.pub != nil {
		if err := h.pub.PublishEvent(payload); err != nil {
			h.logger.Warn("check-in feed publish failed", zap.Error(err))
		}
	}
}

func (h *Hub) broadcastRaw(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer; drop the event rather than block the feed.
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("dashboard client joined", zap.String("client_id", c.id), zap.Int("clients", n))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.logger.Debug("dashboard client left", zap.String("client_id", c.id))
}

// Close stops the cross-instance subscription.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}
