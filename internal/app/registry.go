package app

import (
	"fmt"
	"hash/fnv"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quietroom/relay/internal/core"
	"github.com/quietroom/relay/internal/domain"
	"github.com/quietroom/relay/internal/metrics"
)

// shardCount splits the session map so unrelated sessions almost never
// contend on the same lock.
const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*core.Session
}

// Registry is the concurrent session/client bookkeeping. Structural
// mutations (join, leave, teardown) run under the owning shard's write
// lock, so session create and remove-when-empty can never race; lookups
// take only the shard read lock.
type Registry struct {
	shards [shardCount]shard

	clientCap  int
	queueCap   int
	drainGrace time.Duration

	m *metrics.Metrics
}

func NewRegistry(clientCap, queueCap int, drainGrace time.Duration, m *metrics.Metrics) *Registry {
	r := &Registry{
		clientCap:  clientCap,
		queueCap:   queueCap,
		drainGrace: drainGrace,
		m:          m,
	}
	for i := range r.shards {
		r.shards[i].sessions = make(map[domain.SessionID]*core.Session)
	}
	return r
}

func (r *Registry) shardFor(sid domain.SessionID) *shard {
	h := fnv.New32a()
	h.Write(sid.Bytes())
	return &r.shards[h.Sum32()%shardCount]
}

// Join adds a client to the session, creating the session lazily. A zero
// desired id means the registry assigns a fresh random one. Fails with
// domain.ErrSessionFull or domain.ErrDuplicateClient.
func (r *Registry) Join(sid domain.SessionID, desired domain.ClientID, addr netip.AddrPort) (*core.ClientHandle, error) {
	id := desired
	if id.IsZero() {
		id = domain.NewClientID()
	}

	sh := r.shardFor(sid)
	sh.mu.Lock()
	sess, ok := sh.sessions[sid]
	created := false
	if !ok {
		sess = core.NewSession(sid)
		sh.sessions[sid] = sess
		created = true
	}
	h := core.NewClientHandle(id, addr, r.queueCap)
	if err := sess.Add(h, r.clientCap); err != nil {
		if created {
			delete(sh.sessions, sid)
		}
		sh.mu.Unlock()
		return nil, fmt.Errorf("join %s: %w", sid, err)
	}
	sh.mu.Unlock()

	if created {
		r.m.ActiveSessions.Inc()
		log.Info().Str("module", "app.registry").Str("session", sid.String()).Msg("session created")
	}
	r.m.ActiveClients.Inc()
	r.m.ClientsJoined.Inc()
	log.Info().Str("module", "app.registry").
		Str("session", sid.String()).
		Str("client", id.String()).
		Msg("client joined")
	return h, nil
}

// Leave removes a client and starts draining its outbound queue. It is
// idempotent: explicit-leave and timeout-driven removal may race, and the
// loser is a clean no-op. An empty session is removed in the same
// critical section that removed its last client.
func (r *Registry) Leave(sid domain.SessionID, cid domain.ClientID) {
	sh := r.shardFor(sid)
	sh.mu.Lock()
	sess, ok := sh.sessions[sid]
	if !ok {
		sh.mu.Unlock()
		return
	}
	h, removed := sess.Remove(cid)
	emptied := removed && sess.Len() == 0
	if emptied {
		delete(sh.sessions, sid)
	}
	sh.mu.Unlock()

	if !removed {
		return
	}

	r.m.ActiveClients.Dec()
	log.Info().Str("module", "app.registry").
		Str("session", sid.String()).
		Str("client", cid.String()).
		Msg("client left")

	// Flush what is already queued, then close; the grace timer bounds a
	// stalled consumer. Closing twice is harmless.
	if h.BeginDrain() {
		time.AfterFunc(r.drainGrace, h.Close)
	} else {
		h.Close()
	}

	if emptied {
		r.m.ActiveSessions.Dec()
		log.Info().Str("module", "app.registry").Str("session", sid.String()).Msg("session removed")
	}
}

// TeardownSession closes every client immediately and drops the session.
func (r *Registry) TeardownSession(sid domain.SessionID) {
	sh := r.shardFor(sid)
	sh.mu.Lock()
	sess, ok := sh.sessions[sid]
	if ok {
		delete(sh.sessions, sid)
	}
	sh.mu.Unlock()
	if !ok {
		return
	}

	handles := sess.Handles()
	for _, h := range handles {
		h.Close()
	}
	r.m.ActiveClients.Sub(float64(len(handles)))
	r.m.ActiveSessions.Dec()
	log.Info().Str("module", "app.registry").
		Str("session", sid.String()).
		Int("clients", len(handles)).
		Msg("session torn down")
}

// Lookup returns the live session for sid, if any.
func (r *Registry) Lookup(sid domain.SessionID) (*core.Session, bool) {
	sh := r.shardFor(sid)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	sess, ok := sh.sessions[sid]
	return sess, ok
}

// Touch refreshes a client's heartbeat deadline.
func (r *Registry) Touch(sid domain.SessionID, cid domain.ClientID) {
	if sess, ok := r.Lookup(sid); ok {
		if h, ok := sess.Get(cid); ok {
			h.Touch()
		}
	}
}

// SessionCount reports the number of live sessions.
func (r *Registry) SessionCount() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// SessionInfo is a read-only registry view for the status API.
type SessionInfo struct {
	ID      string    `json:"id"`
	Clients int       `json:"client_count"`
	Packets uint64    `json:"packet_count"`
	Created time.Time `json:"created_at"`
}

// Snapshot lists every live session.
func (r *Registry) Snapshot() []SessionInfo {
	out := make([]SessionInfo, 0, 16)
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for sid, sess := range sh.sessions {
			out = append(out, SessionInfo{
				ID:      sid.String(),
				Clients: sess.Len(),
				Packets: sess.PacketCount(),
				Created: sess.Created(),
			})
		}
		sh.mu.RUnlock()
	}
	return out
}

// sweep removes every client whose last activity is older than timeout.
// Timeout-driven removal shares Leave with the explicit path, so the two
// can race freely.
func (r *Registry) sweep(timeout time.Duration) {
	type idle struct {
		sid domain.SessionID
		cid domain.ClientID
	}
	var stale []idle
	cutoff := time.Now().Add(-timeout)

	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for sid, sess := range sh.sessions {
			for _, h := range sess.Handles() {
				st := h.State()
				if (st == core.StateActive || st == core.StateJoining) && h.LastActivity().Before(cutoff) {
					stale = append(stale, idle{sid: sid, cid: h.ID})
				}
			}
		}
		sh.mu.RUnlock()
	}

	for _, s := range stale {
		log.Info().Str("module", "app.registry").
			Str("session", s.sid.String()).
			Str("client", s.cid.String()).
			Msg("client heartbeat timed out")
		r.m.ClientsReaped.Inc()
		r.Leave(s.sid, s.cid)
	}
}
