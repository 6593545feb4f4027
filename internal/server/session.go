// Package server is the websocket transport: it authenticates attach
// requests, owns the session registry and pumps messages between clients
// and the match orchestrator.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/goalduel/server/internal/auth"
	"github.com/goalduel/server/internal/game"
	"github.com/goalduel/server/internal/model"
)

// Default write queue / timeout constants. Overridden by config values.
const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
	defaultReadTimeout   = 120 * time.Second

	maxMessageSize = 4096
)

// Session is one websocket connection with a verified identity.
// Outbound delivery goes through a bounded queue drained by a dedicated
// write pump; the queue policy by priority tier is:
//
//	critical  blocking enqueue with timeout, failure detaches (overloaded)
//	high      non-blocking, overflow detaches (overloaded)
//	medium    non-blocking, overflow drops the message
//	low       non-blocking, overflow drops the message
type Session struct {
	id          string
	conn        *websocket.Conn
	principal   auth.Principal
	connectedAt time.Time

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration

	// mu protects seat assignment and the close reason.
	mu          sync.Mutex
	roomID      string
	seat        model.Seat
	closeReason string
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn, principal auth.Principal, queueSize int, writeTimeout time.Duration) *Session {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Session{
		id:           uuid.NewString(),
		conn:         conn,
		principal:    principal,
		connectedAt:  time.Now(),
		sendCh:       make(chan []byte, queueSize),
		closeCh:      make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the verified user id.
func (s *Session) UserID() string { return s.principal.UserID }

// Wallet returns the verified wallet address.
func (s *Session) Wallet() string { return s.principal.Wallet }

// Principal returns the full verified identity.
func (s *Session) Principal() auth.Principal { return s.principal }

// SetSeat records the session's room membership.
func (s *Session) SetSeat(roomID string, seat model.Seat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	s.seat = seat
}

// ClearSeat drops the session's room membership.
func (s *Session) ClearSeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = ""
	s.seat = ""
}

// RoomID returns the joined room id ("" when not seated).
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Send queues an event for async delivery, applying the tier policy.
// Implements game.Subscriber.
func (s *Session) Send(msg game.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", msg.Kind, err)
	}

	switch game.PriorityOf(msg.Kind) {
	case game.PriorityCritical:
		timer := time.NewTimer(s.writeTimeout)
		defer timer.Stop()
		select {
		case s.sendCh <- data:
			return nil
		case <-timer.C:
			s.closeWithReason("overloaded")
			return fmt.Errorf("critical send timeout, session %s detached", s.id)
		case <-s.closeCh:
			return fmt.Errorf("session closed")
		}
	case game.PriorityHigh:
		select {
		case s.sendCh <- data:
			return nil
		default:
			slog.Warn("send queue full, detaching slow session", "session", s.id, "user", s.principal.UserID)
			s.closeWithReason("overloaded")
			return fmt.Errorf("send queue full")
		}
	default:
		select {
		case s.sendCh <- data:
		default:
			// Droppable tier: keep the session, lose the update.
			slog.Debug("dropped low-priority event", "session", s.id, "kind", msg.Kind)
		}
		return nil
	}
}

// writePump is the dedicated writer goroutine for this session. It drains
// sendCh with a per-write deadline and keeps the connection alive with
// pings. All writes to the connection happen here.
func (s *Session) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.sendCh:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Warn("write failed", "session", s.id, "error", err)
				s.closeWithReason("write_error")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.closeWithReason("write_error")
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// closeWithReason stops the write pump and records why, once.
func (s *Session) closeWithReason(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeReason = reason
		s.mu.Unlock()
		close(s.closeCh)
	})
}

// CloseReason returns the recorded disconnect reason ("" = peer closed).
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Close tears the connection down. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeWithReason("closed")
	return s.conn.Close()
}
