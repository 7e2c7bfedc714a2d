package app

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietroom/relay/internal/core"
	"github.com/quietroom/relay/internal/domain"
	"github.com/quietroom/relay/internal/metrics"
)

func testRegistry(clientCap int) *Registry {
	return NewRegistry(clientCap, 8, 50*time.Millisecond, metrics.New(prometheus.NewRegistry()))
}

func testAddr() netip.AddrPort {
	return netip.MustParseAddrPort("127.0.0.1:4090")
}

func TestJoinCreatesSessionLazily(t *testing.T) {
	r := testRegistry(0)
	sid := domain.NewSessionID()

	_, ok := r.Lookup(sid)
	assert.False(t, ok)

	h, err := r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	assert.False(t, h.ID.IsZero(), "registry assigns a random id")
	assert.Equal(t, core.StateJoining, h.State())

	sess, ok := r.Lookup(sid)
	require.True(t, ok)
	assert.Equal(t, 1, sess.Len())
}

func TestJoinHonorsDesiredID(t *testing.T) {
	r := testRegistry(0)
	sid := domain.NewSessionID()
	want := domain.NewClientID()

	h, err := r.Join(sid, want, testAddr())
	require.NoError(t, err)
	assert.Equal(t, want, h.ID)
}

func TestJoinDuplicateClient(t *testing.T) {
	r := testRegistry(0)
	sid := domain.NewSessionID()
	id := domain.NewClientID()

	_, err := r.Join(sid, id, testAddr())
	require.NoError(t, err)
	_, err = r.Join(sid, id, testAddr())
	assert.ErrorIs(t, err, domain.ErrDuplicateClient)

	sess, ok := r.Lookup(sid)
	require.True(t, ok)
	assert.Equal(t, 1, sess.Len(), "failed join must not disturb the session")
}

func TestJoinSessionFull(t *testing.T) {
	r := testRegistry(2)
	sid := domain.NewSessionID()

	_, err := r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	_, err = r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	_, err = r.Join(sid, domain.ClientID{}, testAddr())
	assert.ErrorIs(t, err, domain.ErrSessionFull)
}

func TestLeaveRemovesEmptySession(t *testing.T) {
	r := testRegistry(0)
	sid := domain.NewSessionID()

	a, err := r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	b, err := r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)

	r.Leave(sid, a.ID)
	sess, ok := r.Lookup(sid)
	require.True(t, ok, "session lives while b is in it")
	assert.Equal(t, 1, sess.Len())

	r.Leave(sid, b.ID)
	_, ok = r.Lookup(sid)
	assert.False(t, ok, "last leave removes the session")
	assert.Equal(t, 0, r.SessionCount())
}

func TestLeaveIsIdempotent(t *testing.T) {
	r := testRegistry(0)
	sid := domain.NewSessionID()

	h, err := r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)

	// Explicit leave followed by a raced timeout-driven leave: both are
	// clean, neither corrupts the registry.
	r.Leave(sid, h.ID)
	r.Leave(sid, h.ID)
	r.Leave(domain.NewSessionID(), h.ID)

	_, ok := r.Lookup(sid)
	assert.False(t, ok)
}

func TestLeaveDrainsHandle(t *testing.T) {
	r := testRegistry(0)
	sid := domain.NewSessionID()

	h, err := r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	h.MarkActive()
	_, err = h.Queue.Push(domain.Packet{Kind: domain.KindVoice})
	require.NoError(t, err)

	r.Leave(sid, h.ID)
	assert.Equal(t, core.StateDraining, h.State())

	// Queued packets remain poppable during the drain.
	_, err = h.Queue.Pop(context.Background())
	require.NoError(t, err)

	// The grace timer closes a handle that is not flushed by then.
	require.Eventually(t, func() bool {
		return h.State() == core.StateClosed
	}, time.Second, 10*time.Millisecond)
}

func TestJoinLeaveCountLaw(t *testing.T) {
	r := testRegistry(0)
	sid := domain.NewSessionID()

	var ids []domain.ClientID
	for i := 0; i < 5; i++ {
		h, err := r.Join(sid, domain.ClientID{}, testAddr())
		require.NoError(t, err)
		ids = append(ids, h.ID)
	}
	for i, id := range ids {
		sess, ok := r.Lookup(sid)
		require.True(t, ok)
		assert.Equal(t, len(ids)-i, sess.Len())
		r.Leave(sid, id)
	}
	_, ok := r.Lookup(sid)
	assert.False(t, ok, "zero clients means no session")
}

func TestConcurrentJoinsOnFreshSession(t *testing.T) {
	// Two callers racing to create the same still-empty session must both
	// land in one session, never in two.
	r := testRegistry(0)
	sid := domain.NewSessionID()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = r.Join(sid, domain.ClientID{}, testAddr())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sess, ok := r.Lookup(sid)
	require.True(t, ok)
	assert.Equal(t, n, sess.Len())
	assert.Equal(t, 1, r.SessionCount())
}

func TestConcurrentJoinLeaveChurn(t *testing.T) {
	r := testRegistry(0)
	sid := domain.NewSessionID()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Join(sid, domain.ClientID{}, testAddr())
			if err != nil {
				return
			}
			r.Leave(sid, h.ID)
			r.Leave(sid, h.ID) // racing double-leave on purpose
		}()
	}
	wg.Wait()

	_, ok := r.Lookup(sid)
	assert.False(t, ok, "everyone left, session must be gone")
}

func TestTeardownSessionClosesEveryone(t *testing.T) {
	r := testRegistry(0)
	sid := domain.NewSessionID()

	a, err := r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	b, err := r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	a.MarkActive()

	r.TeardownSession(sid)
	assert.Equal(t, core.StateClosed, a.State())
	assert.Equal(t, core.StateClosed, b.State())
	_, ok := r.Lookup(sid)
	assert.False(t, ok)
}

func TestSweepReapsIdleClients(t *testing.T) {
	r := testRegistry(0)
	sid := domain.NewSessionID()

	idle, err := r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	idle.MarkActive()
	busy, err := r.Join(sid, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	busy.MarkActive()

	time.Sleep(30 * time.Millisecond)
	busy.Touch()
	r.sweep(20 * time.Millisecond)

	sess, ok := r.Lookup(sid)
	require.True(t, ok)
	_, stillThere := sess.Get(busy.ID)
	assert.True(t, stillThere)
	_, reaped := sess.Get(idle.ID)
	assert.False(t, reaped)
}

func TestSnapshot(t *testing.T) {
	r := testRegistry(0)
	s1 := domain.NewSessionID()
	s2 := domain.NewSessionID()
	_, err := r.Join(s1, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	_, err = r.Join(s1, domain.ClientID{}, testAddr())
	require.NoError(t, err)
	_, err = r.Join(s2, domain.ClientID{}, testAddr())
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	counts := map[string]int{}
	for _, info := range snap {
		counts[info.ID] = info.Clients
	}
	assert.Equal(t, 2, counts[s1.String()])
	assert.Equal(t, 1, counts[s2.String()])
}
