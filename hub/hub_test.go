package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strokesync-server/domain"
)

func TestHub_GetOrCreateIdempotent(t *testing.T) {
	h := New(Config{})

	const joiners = 32
	rooms := make([]domain.RoomHub, joiners)
	var wg sync.WaitGroup
	for i := range joiners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := h.GetOrCreate("r1")
			assert.NoError(t, err)
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < joiners; i++ {
		assert.Same(t, rooms[0], rooms[i], "concurrent first-joins must yield one instance")
	}
	got, _ := h.Stats()
	assert.Equal(t, 1, got)
}

func TestHub_MaxRooms(t *testing.T) {
	h := New(Config{MaxRooms: 2})

	_, err := h.GetOrCreate("r1")
	require.NoError(t, err)
	_, err = h.GetOrCreate("r2")
	require.NoError(t, err)

	_, err = h.GetOrCreate("r3")
	assert.ErrorIs(t, err, ErrTooManyRooms)

	// An existing room is still reachable at the cap.
	_, err = h.GetOrCreate("r1")
	assert.NoError(t, err)
}

func TestHub_GraceRelease(t *testing.T) {
	h := New(Config{Grace: 30 * time.Millisecond})

	r, err := h.GetOrCreate("r1")
	require.NoError(t, err)
	conn := &mockConn{id: "a", roomID: "r1"}
	r.Join(conn)
	r.Submit("a", candidate(0))
	r.Leave("a")

	// Still live inside the grace window.
	assert.True(t, h.Exists("r1"))

	require.Eventually(t, func() bool {
		return !h.Exists("r1")
	}, time.Second, 5*time.Millisecond, "empty room must be released after the grace window")

	// History is gone with the room.
	fresh, err := h.GetOrCreate("r1")
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.(*Room).LogLen())
}

func TestHub_RejoinCancelsRelease(t *testing.T) {
	h := New(Config{Grace: 40 * time.Millisecond})

	r, err := h.GetOrCreate("r1")
	require.NoError(t, err)
	conn := &mockConn{id: "a", roomID: "r1"}
	r.Join(conn)
	r.Submit("a", candidate(0))
	r.Leave("a")

	// Rejoin within the grace window keeps the room and its log.
	r2, err := h.GetOrCreate("r1")
	require.NoError(t, err)
	r2.Join(&mockConn{id: "a2", roomID: "r1"})

	time.Sleep(100 * time.Millisecond)
	assert.True(t, h.Exists("r1"))
	assert.Equal(t, 1, r2.(*Room).LogLen())
}

func TestHub_StaleReleaseCannotEvictRejoinedRoom(t *testing.T) {
	h := New(Config{Grace: time.Hour})

	// First resolve creates the room; with no member yet, a release is
	// already pending.
	r1, err := h.GetOrCreate("r1")
	require.NoError(t, err)

	h.mu.Lock()
	stale := h.releases["r1"].gen
	h.mu.Unlock()

	// A rejoin resolves the room and cancels the pending release, but
	// has not joined yet (mid websocket upgrade).
	r2, err := h.GetOrCreate("r1")
	require.NoError(t, err)
	require.Same(t, r1, r2)

	// The cancelled timer had already fired and was blocked on the
	// hub lock; its callback must see it was superseded and leave the
	// room alone even though it is still empty.
	h.release("r1", stale)

	require.True(t, h.Exists("r1"), "rejoined room must survive a stale release callback")
	r2.Join(&mockConn{id: "a", roomID: "r1"})

	r3, err := h.GetOrCreate("r1")
	require.NoError(t, err)
	assert.Same(t, r2, r3, "one id must map to one live room instance")
}

func TestHub_CurrentReleaseStillFires(t *testing.T) {
	h := New(Config{Grace: time.Hour})

	_, err := h.GetOrCreate("r1")
	require.NoError(t, err)

	h.mu.Lock()
	gen := h.releases["r1"].gen
	h.mu.Unlock()

	h.release("r1", gen)

	assert.False(t, h.Exists("r1"), "the registered release must still tear the empty room down")
}

func TestHub_NeverJoinedRoomIsReleased(t *testing.T) {
	h := New(Config{Grace: 30 * time.Millisecond})

	_, err := h.GetOrCreate("r1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !h.Exists("r1")
	}, time.Second, 5*time.Millisecond)
}

func TestHub_Stats(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*Hub)
		wantRooms   int
		wantClients int
	}{
		{
			name:        "empty hub",
			setup:       func(h *Hub) {},
			wantRooms:   0,
			wantClients: 0,
		},
		{
			name: "one room one client",
			setup: func(h *Hub) {
				r, _ := h.GetOrCreate("r1")
				r.Join(&mockConn{id: "c1", roomID: "r1"})
			},
			wantRooms:   1,
			wantClients: 1,
		},
		{
			name: "multiple rooms",
			setup: func(h *Hub) {
				r1, _ := h.GetOrCreate("r1")
				r1.Join(&mockConn{id: "c1", roomID: "r1"})
				r1.Join(&mockConn{id: "c2", roomID: "r1"})
				r2, _ := h.GetOrCreate("r2")
				r2.Join(&mockConn{id: "c3", roomID: "r2"})
			},
			wantRooms:   2,
			wantClients: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Config{})
			tt.setup(h)

			rooms, clients := h.Stats()

			assert.Equal(t, tt.wantRooms, rooms)
			assert.Equal(t, tt.wantClients, clients)
		})
	}
}

func TestGenerateRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		code := GenerateRoomCode(6)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.Contains(t, string(codeAlphabet), string(r))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 90, fmt.Sprintf("codes should rarely collide, got %d unique", len(seen)))
}
