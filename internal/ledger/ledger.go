package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrUnavailable indicates no ledger connection has been established yet.
var ErrUnavailable = errors.New("ledger: connection not available")

// Event is one lifecycle transition submitted for appending. EventKey is the
// idempotency key: it is derived deterministically from the queue row, so
// resubmitting the same event after a lost confirmation cannot produce a
// duplicate ledger entry.
type Event struct {
	EventKey  string          `json:"eventKey"`
	SessionID string          `json:"sessionId"`
	EVID      string          `json:"evId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// Receipt carries the ledger-assigned identifiers returned on confirmation.
type Receipt struct {
	TxID     string `json:"txId"`
	EventKey string `json:"eventKey"`
}

// Client appends events to the external ledger. SubmitEvent must be safe to
// call more than once with the same EventKey.
type Client interface {
	SubmitEvent(ctx context.Context, event Event) (Receipt, error)
}

// Handle holds the ledger client once connectivity is established. The
// not-yet-available state is explicit: callers get (nil, false) until Set is
// called, instead of racing a nullable shared pointer.
type Handle struct {
	mu     sync.RWMutex
	client Client
}

// NewHandle returns an empty handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Set installs the connected client.
func (h *Handle) Set(client Client) {
	h.mu.Lock()
	h.client = client
	h.mu.Unlock()
}

// Client returns the connected client, if any.
func (h *Handle) Client() (Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.client, h.client != nil
}

// Available reports whether a ledger connection is ready.
func (h *Handle) Available() bool {
	_, ok := h.Client()
	return ok
}
