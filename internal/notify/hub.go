package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Session is one connected WebSocket. Writes are serialized by the session
// mutex since gorilla/websocket allows only one concurrent writer.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// Hub holds party-addressed sessions and implements Notifier. When a party
// has no live session the optional push client is tried as a fallback.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	push     *PushClient // may be nil
	logger   *slog.Logger
}

func NewHub(push *PushClient, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{sessions: make(map[string]*Session), push: push, logger: logger}
}

func (h *Hub) Add(p Party, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[p.Key()] = &Session{conn: conn}
}

func (h *Hub) Remove(p Party) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, p.Key())
}

func (h *Hub) Publish(p Party, ev Event) error {
	h.mu.RLock()
	s, ok := h.sessions[p.Key()]
	h.mu.RUnlock()
	if !ok {
		if h.push != nil {
			return h.push.Send(p, ev)
		}
		return ErrNoSession
	}
	if err := s.send(ev); err != nil {
		h.logger.Warn("ws send failed", "party", p.Key(), "event", ev.Type, "error", err)
		return err
	}
	return nil
}
