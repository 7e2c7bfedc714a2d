package core

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quietroom/relay/internal/domain"
)

// ClientHandle is the server-side state for one joined client: its
// network address, outbound queue, last-activity timestamp and lifecycle
// state. The registry owns handles; the relay engine only looks them up
// by id, so removal is always safe and visible.
type ClientHandle struct {
	ID    domain.ClientID
	Queue *SendQueue

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos

	mu     sync.Mutex
	addr   netip.AddrPort
	cancel func() // stops the dedicated send task
}

func NewClientHandle(id domain.ClientID, addr netip.AddrPort, queueCap int) *ClientHandle {
	h := &ClientHandle{
		ID:    id,
		Queue: NewSendQueue(queueCap),
		addr:  addr,
	}
	h.state.Store(int32(StateJoining))
	h.lastActivity.Store(time.Now().UnixNano())
	return h
}

func (h *ClientHandle) State() State {
	return State(h.state.Load())
}

// Touch records activity and refreshes the heartbeat deadline.
func (h *ClientHandle) Touch() {
	h.lastActivity.Store(time.Now().UnixNano())
}

func (h *ClientHandle) LastActivity() time.Time {
	return time.Unix(0, h.lastActivity.Load())
}

// MarkActive moves Joining to Active. It reports whether the handle is
// Active afterwards, so callers can treat an already-active handle the
// same as a fresh transition.
func (h *ClientHandle) MarkActive() bool {
	h.state.CompareAndSwap(int32(StateJoining), int32(StateActive))
	return h.State() == StateActive
}

// BeginDrain moves the handle into Draining on explicit leave or
// heartbeat timeout. Pushes are rejected from here on; the send task
// keeps flushing what is already queued. Returns false if the handle was
// already draining or closed.
func (h *ClientHandle) BeginDrain() bool {
	swapped := h.state.CompareAndSwap(int32(StateActive), int32(StateDraining)) ||
		h.state.CompareAndSwap(int32(StateJoining), int32(StateDraining))
	if swapped {
		h.Queue.Close()
	}
	return swapped
}

// Close is terminal and valid from any state: the queue stops accepting,
// and the dedicated send task is cancelled.
func (h *ClientHandle) Close() {
	h.state.Store(int32(StateClosed))
	h.Queue.Close()

	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// BindSendTask hands the handle the cancel func of its send goroutine.
func (h *ClientHandle) BindSendTask(cancel func()) {
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
}

// Addr returns the client's last known address.
func (h *ClientHandle) Addr() netip.AddrPort {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// SetAddr updates the address; clients may rebind ports mid-session.
func (h *ClientHandle) SetAddr(addr netip.AddrPort) {
	h.mu.Lock()
	h.addr = addr
	h.mu.Unlock()
}
