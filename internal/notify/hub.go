package notify

import (
	"encoding/json"
	"sync"
	"time"

	"chargeledger/internal/metrics"
)

// Message is the wire shape delivered to every live subscriber, one per
// lifecycle transition plus one per queued-event confirmation or failure.
type Message struct {
	EventName string  `json:"eventName"`
	TxID      string  `json:"txId"`
	Payload   Payload `json:"payload"`
}

// Payload nests the transition details as a JSON-encoded string.
type Payload struct {
	Timestamp time.Time `json:"timestamp"`
	TxID      string    `json:"txId"`
	Payload   string    `json:"payload"`
}

// EventConnected is the synthetic greeting sent when a subscriber attaches.
const EventConnected = "connected"

// Hub fans lifecycle events out to live subscribers.
type Hub struct {
	mu           sync.RWMutex
	subscribers  map[*Subscriber]struct{}
	pingInterval time.Duration
}

// NewHub builds subscriber registry.
func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		subscribers:  make(map[*Subscriber]struct{}),
		pingInterval: pingInterval,
	}
}

// Add registers a subscriber and sends the connected greeting.
func (h *Hub) Add(sub *Subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(count))
	sub.deliver(buildMessage(EventConnected, "", map[string]string{"status": "connected"}))
}

// Remove unregisters a subscriber.
func (h *Hub) Remove(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(count))
}

// Broadcast delivers one event to every subscriber. Slow subscribers drop
// messages rather than block the caller.
func (h *Hub) Broadcast(eventName, txID string, details interface{}) {
	msg := buildMessage(eventName, txID, details)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		sub.deliver(msg)
	}
}

// PingInterval is the keepalive cadence handed to each subscriber's write
// pump. Pings stay on the pump so nothing else ever writes to the socket.
func (h *Hub) PingInterval() time.Duration {
	return h.pingInterval
}

func buildMessage(eventName, txID string, details interface{}) []byte {
	encoded, err := json.Marshal(details)
	if err != nil {
		encoded = []byte("{}")
	}
	msg := Message{
		EventName: eventName,
		TxID:      txID,
		Payload: Payload{
			Timestamp: time.Now().UTC(),
			TxID:      txID,
			Payload:   string(encoded),
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return data
}
