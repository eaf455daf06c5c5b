package broadcast

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/models"
)

const (
	// subscriberBuffer bounds the per-subscriber event queue. A subscriber
	// that falls further behind loses events; there is no replay.
	subscriberBuffer = 16

	writeWait = 10 * time.Second
)

// wireMessage is the envelope dashboards consume on the WebSocket.
type wireMessage struct {
	Event string               `json:"event"`
	Data  models.PresenceEvent `json:"data"`
}

const eventStatusUpdate = "status_update"

// Hub fans presence events out to all live subscribers. Delivery is best
// effort: no buffering beyond the per-subscriber queue, no persistence, no
// replay. Its only state is the active subscriber set.
type Hub struct {
	subscribers cmap.ConcurrentMap[string, *Subscription]
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subscribers: cmap.New[*Subscription](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
}

// Subscription receives events published while it is registered. Close is
// idempotent and detaches the subscription from the hub.
type Subscription struct {
	id     string
	events chan models.PresenceEvent
	done   chan struct{}
	hub    *Hub
	once   sync.Once
}

func (s *Subscription) Events() <-chan models.PresenceEvent {
	return s.events
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.subscribers.Remove(s.id)
		close(s.done)
	})
}

// Subscribe registers a new subscriber and returns its subscription.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.New().String(),
		events: make(chan models.PresenceEvent, subscriberBuffer),
		done:   make(chan struct{}),
		hub:    h,
	}
	h.subscribers.Set(sub.id, sub)

	h.logger.Debug().Str("subscriber_id", sub.id).Int("subscribers", h.Count()).Msg("Subscriber registered")
	return sub
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	return h.subscribers.Count()
}

// Publish delivers the event to every live subscriber. A subscriber whose
// queue is full is skipped rather than blocking the publisher.
func (h *Hub) Publish(event models.PresenceEvent) {
	for item := range h.subscribers.IterBuffered() {
		sub := item.Val
		select {
		case sub.events <- event:
		case <-sub.done:
		default:
			h.logger.Warn().Str("subscriber_id", sub.id).Str("device_id", event.DeviceID).
				Msg("Subscriber queue full, dropping event")
		}
	}
}

// CloseAll detaches every subscriber, used on shutdown.
func (h *Hub) CloseAll() {
	for item := range h.subscribers.IterBuffered() {
		item.Val.Close()
	}
}

// ServeWS upgrades the request to a WebSocket and streams events until the
// client disconnects. Cleanup is implicit: either loop closing the
// subscription ends the other.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}

	sub := h.Subscribe()
	h.logger.Info().Str("remote_addr", r.RemoteAddr).Str("subscriber_id", sub.id).Msg("Dashboard client connected")

	go h.readLoop(conn, sub)
	h.writeLoop(conn, sub)

	h.logger.Info().Str("remote_addr", r.RemoteAddr).Str("subscriber_id", sub.id).Msg("Dashboard client disconnected")
}

// readLoop discards inbound frames; its job is detecting disconnects.
func (h *Hub) readLoop(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()
	defer conn.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()
	defer conn.Close()

	for {
		select {
		case event := <-sub.events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(wireMessage{Event: eventStatusUpdate, Data: event}); err != nil {
				h.logger.Debug().Err(err).Str("subscriber_id", sub.id).Msg("Write failed, closing subscriber")
				return
			}
		case <-sub.done:
			return
		}
	}
}
