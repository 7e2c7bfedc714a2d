package core

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quietroom/relay/internal/domain"
)

// Session owns the client handles of one call/room. Each session has its
// own lock; nothing in the core ever holds two session locks at once.
type Session struct {
	ID      domain.SessionID
	created time.Time

	mu      sync.RWMutex
	clients map[domain.ClientID]*ClientHandle

	packets atomic.Uint64 // relayed-packet counter, diagnostics only
}

func NewSession(id domain.SessionID) *Session {
	return &Session{
		ID:      id,
		created: time.Now(),
		clients: make(map[domain.ClientID]*ClientHandle),
	}
}

func (s *Session) Created() time.Time { return s.created }

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Add inserts a handle, enforcing uniqueness and the client cap.
func (s *Session) Add(h *ClientHandle, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[h.ID]; ok {
		return domain.ErrDuplicateClient
	}
	if limit > 0 && len(s.clients) >= limit {
		return domain.ErrSessionFull
	}
	s.clients[h.ID] = h
	return nil
}

// Remove deletes a handle by id. Removing an absent id is a no-op; the
// bool tells the caller whether anything happened.
func (s *Session) Remove(id domain.ClientID) (*ClientHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	return h, ok
}

func (s *Session) Get(id domain.ClientID) (*ClientHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.clients[id]
	return h, ok
}

// Recipients snapshots every handle except the sender's. Fan-out works on
// the snapshot so it never holds the session lock across queue pushes.
func (s *Session) Recipients(sender domain.ClientID) []*ClientHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ClientHandle, 0, len(s.clients))
	for id, h := range s.clients {
		if id == sender {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Handles snapshots every handle in the session.
func (s *Session) Handles() []*ClientHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ClientHandle, 0, len(s.clients))
	for _, h := range s.clients {
		out = append(out, h)
	}
	return out
}

// CountPacket bumps the diagnostic packet counter, saturating at the
// maximum instead of wrapping.
func (s *Session) CountPacket() {
	for {
		cur := s.packets.Load()
		if cur == math.MaxUint64 {
			return
		}
		if s.packets.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}

func (s *Session) PacketCount() uint64 {
	return s.packets.Load()
}
