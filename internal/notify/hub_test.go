package notify

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildMessageShape(t *testing.T) {
	data := buildMessage("SessionPaused", "tx-42", map[string]interface{}{
		"sessionId": "s1",
		"status":    "disconnected",
	})
	if data == nil {
		t.Fatal("expected a message")
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("message is not valid JSON: %v", err)
	}
	if msg.EventName != "SessionPaused" {
		t.Fatalf("expected eventName SessionPaused, got %s", msg.EventName)
	}
	if msg.TxID != "tx-42" || msg.Payload.TxID != "tx-42" {
		t.Fatalf("expected txId carried at both levels, got %q/%q", msg.TxID, msg.Payload.TxID)
	}
	if msg.Payload.Timestamp.IsZero() || time.Since(msg.Payload.Timestamp) > time.Minute {
		t.Fatalf("expected a fresh timestamp, got %v", msg.Payload.Timestamp)
	}

	// The transition details travel as a JSON-encoded string.
	var details map[string]string
	if err := json.Unmarshal([]byte(msg.Payload.Payload), &details); err != nil {
		t.Fatalf("inner payload is not a JSON string: %v", err)
	}
	if details["sessionId"] != "s1" || details["status"] != "disconnected" {
		t.Fatalf("unexpected details: %v", details)
	}
}

func TestBuildMessageUnencodableDetails(t *testing.T) {
	data := buildMessage("SessionStopped", "", map[string]interface{}{
		"bad": func() {},
	})
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("message is not valid JSON: %v", err)
	}
	if msg.Payload.Payload != "{}" {
		t.Fatalf("expected empty object fallback, got %q", msg.Payload.Payload)
	}
}
