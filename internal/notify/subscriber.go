package notify

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 16
	readLimit    = 64 * 1024
	readDeadline = 90 * time.Second
)

// Subscriber represents one live WebSocket watcher of session state.
type Subscriber struct {
	ws           *websocket.Conn
	send         chan []byte
	logger       *zap.Logger
	pingInterval time.Duration
	writeTimeout time.Duration
	onClose      func(*Subscriber)
}

// NewSubscriber builds connection wrapper.
func NewSubscriber(ws *websocket.Conn, pingInterval, writeTimeout time.Duration, logger *zap.Logger, onClose func(*Subscriber)) *Subscriber {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Subscriber{
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		logger:       logger,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		onClose:      onClose,
	}
}

// Start launches read/write pumps and blocks until the connection closes.
func (s *Subscriber) Start(ctx context.Context) {
	go s.writePump(ctx)
	s.readPump(ctx)
}

func (s *Subscriber) readPump(ctx context.Context) {
	defer s.cleanup()
	s.ws.SetReadLimit(readLimit)
	s.ws.SetReadDeadline(time.Now().Add(readDeadline))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	// Subscribers are receive-only; the loop exists to surface closes and pongs.
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := s.ws.ReadMessage(); err != nil {
			s.logger.Debug("subscriber read closed", zap.Error(err))
			return
		}
	}
}

// writePump is the only goroutine writing to the socket. Keepalive pings run
// on its ticker, never from another goroutine, so a ping cannot race a
// broadcast on the connection.
func (s *Subscriber) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("subscriber ping failed", zap.Error(err))
				return
			}
		case msg, ok := <-s.send:
			if !ok {
				_ = s.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.write(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// deliver enqueues a message, dropping it when the buffer is full.
func (s *Subscriber) deliver(msg []byte) {
	if msg == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("attempted to send on closed subscriber channel")
		}
	}()
	select {
	case s.send <- msg:
	default:
		s.logger.Warn("dropping notification, subscriber buffer full")
	}
}

func (s *Subscriber) write(messageType int, data []byte) error {
	s.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.ws.WriteMessage(messageType, data)
}

func (s *Subscriber) cleanup() {
	close(s.send)
	_ = s.ws.Close()
	if s.onClose != nil {
		s.onClose(s)
	}
}
