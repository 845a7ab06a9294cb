package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestSubscriberKeepaliveAndDelivery(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan *Subscriber, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub := NewSubscriber(ws, 20*time.Millisecond, time.Second, zap.NewNop(), nil)
		subs <- sub
		sub.Start(r.Context())
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	texts := make(chan []byte, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case texts <- data:
			default:
			}
		}
	}()

	sub := <-subs
	sub.deliver(buildMessage("SessionStarted", "", map[string]string{"sessionId": "s1"}))

	// Keepalive pings and broadcasts share the write pump, so both must
	// arrive while the other is flowing.
	deadline := time.After(2 * time.Second)
	gotPing, gotText := false, false
	for !gotPing || !gotText {
		select {
		case <-pinged:
			gotPing = true
		case data := <-texts:
			if !strings.Contains(string(data), "SessionStarted") {
				t.Fatalf("unexpected message: %s", data)
			}
			gotText = true
		case <-deadline:
			t.Fatalf("timed out, ping=%v text=%v", gotPing, gotText)
		}
	}
}
