package collab

import (
	"context"
	"log"
	"sync"
	"time"

	"appforge/internal/middleware"
	"appforge/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Session represents one active WebSocket connection. A session belongs to at
// most one room at a time; ProjectID is empty until join-project arrives.
type Session struct {
	*models.Session
	Conn    *websocket.Conn
	Send    chan []byte // Buffered channel for outbound messages
	Manager *RoomManager

	// mu guards closed and LastActiveAt. Export and AI completions arrive on
	// worker goroutines and may outlive the session, so every enqueue must
	// check closed under the lock before touching Send.
	mu     sync.Mutex
	closed bool
}

// send queues an envelope for delivery. Messages to a departed session are
// dropped: slow operations are allowed to finish after the user leaves, their
// replies just have nowhere to go.
func (s *Session) send(msg *models.Message) {
	data, err := msg.Encode()
	if err != nil {
		log.Printf("session %s: encode %s: %v", s.ID, msg.Type, err)
		return
	}
	if !s.enqueue(data) {
		log.Printf("⚠️  session %s unavailable, dropping %s", s.ID, msg.Type)
	}
}

// enqueue hands raw bytes to the write pump. Returns false when the session
// is closed or its buffer is full (slow or dead client).
func (s *Session) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend marks the session closed and shuts the send channel. Idempotent;
// after this every enqueue is a no-op.
func (s *Session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.Send)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActiveAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActiveAt
}

// sendError reports a failure string on the generic error channel.
func (s *Session) sendError(requestID, message string) {
	msg, err := models.NewMessage(models.MsgError, requestID, models.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	s.send(msg)
}

// ReadPump reads envelopes from the WebSocket connection and hands them to
// the room manager. Each session has its own read goroutine.
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.Manager.unregister <- s
		s.Conn.Close()
	}()

	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("session %s: read: %v", s.ID, err)
			}
			break
		}

		s.touch()

		msg, err := models.DecodeMessage(data)
		if err != nil {
			// Protocol error: log, report, keep the session alive.
			log.Printf("session %s: %v", s.ID, err)
			s.sendError("", "malformed message")
			continue
		}

		msgCtx, span := middleware.StartSpan(ctx, "Collab.ProcessMessage",
			attribute.String("session.id", s.ID),
			attribute.String("project.id", s.ProjectID),
			attribute.String("message.type", string(msg.Type)),
		)
		s.Manager.handleMessage(msgCtx, s, msg)
		span.End()
	}
}

// WritePump writes queued messages to the WebSocket connection. A separate
// goroutine per session prevents slow clients from blocking the room.
func (s *Session) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// Flush additional queued messages in the same turn.
			n := len(s.Send)
			for i := 0; i < n; i++ {
				if err := s.Conn.WriteMessage(websocket.TextMessage, <-s.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
