package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStoreLoadDefaultsAndCaches(t *testing.T) {
	t.Parallel()

	rooms := newMemoryRoomStore()
	store := NewSessionStore(rooms)
	lease, err := store.Acquire(context.Background(), "room-1")
	require.NoError(t, err)
	defer lease.Release()

	state, err := store.Load(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHearingLevel, state.Phase)

	state.Phase = domain.PhaseHearingGoal
	require.NoError(t, store.Save(context.Background(), state))

	// The repository copy changes underneath; the cache wins.
	rooms.sessions["room-1"] = domain.ManagedSessionState{RoomID: "room-1", Phase: domain.PhaseCompleted}
	cached, err := store.Load(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHearingGoal, cached.Phase)
}

func TestSessionStoreNormalizesStoredPhase(t *testing.T) {
	t.Parallel()

	rooms := newMemoryRoomStore()
	rooms.sessions["room-1"] = domain.ManagedSessionState{RoomID: "room-1", Phase: domain.PhaseHearing}

	state, err := NewSessionStore(rooms).Load(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHearingLevel, state.Phase)
}

func TestSessionStoreLoadReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(newMemoryRoomStore())
	lease, err := store.Acquire(context.Background(), "room-1")
	require.NoError(t, err)
	defer lease.Release()

	roadmap := domain.FallbackRoadmap("go", "beginner")
	state := domain.NewManagedSessionState("room-1")
	state.Roadmap = &roadmap
	require.NoError(t, store.Save(context.Background(), state))

	first, err := store.Load(context.Background(), "room-1")
	require.NoError(t, err)
	first.Roadmap.Units[0].Sections[0].Status = domain.SectionCompleted

	second, err := store.Load(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SectionPending, second.Roadmap.Units[0].Sections[0].Status)
}

func TestSessionStoreSupersedeCancelsActiveLease(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(newMemoryRoomStore())

	first, err := store.Supersede(context.Background(), "room-1")
	require.NoError(t, err)
	assert.True(t, first.Active())

	acquired := make(chan *Lease, 1)
	go func() {
		second, err := store.Supersede(context.Background(), "room-1")
		if err == nil {
			acquired <- second
		}
		close(acquired)
	}()

	select {
	case <-first.Ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("first lease was not cancelled")
	}
	assert.True(t, errors.Is(context.Cause(first.Ctx), ErrSuperseded))
	assert.False(t, first.Active())

	first.Release()

	select {
	case second := <-acquired:
		require.NotNil(t, second)
		assert.True(t, second.Active())
		second.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("second lease was never granted")
	}
}

func TestSessionStoreAcquireWaitsWithoutCancelling(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(newMemoryRoomStore())

	first, err := store.Acquire(context.Background(), "room-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = store.Acquire(ctx, "room-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, first.Ctx.Err())
	assert.True(t, first.Active())

	first.Release()
	first.Release()

	other, err := store.Acquire(context.Background(), "room-1")
	require.NoError(t, err)
	other.Release()
}

func TestSessionStoreRoomsAreIndependent(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(newMemoryRoomStore())

	a, err := store.Supersede(context.Background(), "room-a")
	require.NoError(t, err)
	defer a.Release()

	b, err := store.Supersede(context.Background(), "room-b")
	require.NoError(t, err)
	defer b.Release()

	assert.NoError(t, a.Ctx.Err())
	assert.True(t, a.Active())
	assert.True(t, b.Active())
}

func slotCount(s *SessionStore) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func TestSessionStoreEvictsIdleRooms(t *testing.T) {
	t.Parallel()

	rooms := newMemoryRoomStore()
	store := NewSessionStore(rooms)

	for _, id := range []domain.RoomID{"room-a", "room-b", "room-c"} {
		lease, err := store.Supersede(context.Background(), id)
		require.NoError(t, err)
		state, err := store.Load(lease.Ctx, id)
		require.NoError(t, err)
		state.Phase = domain.PhaseHearingGoal
		require.NoError(t, store.Save(lease.Ctx, state))
		lease.Release()
	}
	assert.Equal(t, 0, slotCount(store))

	// Reads outside a lease go to the repository and leave no slot behind.
	state, err := store.Load(context.Background(), "room-b")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHearingGoal, state.Phase)
	assert.Equal(t, 0, slotCount(store))
}

func TestSessionStoreKeepsSlotWhileWaiting(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(newMemoryRoomStore())

	first, err := store.Acquire(context.Background(), "room-1")
	require.NoError(t, err)

	acquired := make(chan *Lease, 1)
	go func() {
		second, err := store.Acquire(context.Background(), "room-1")
		if err == nil {
			acquired <- second
		}
		close(acquired)
	}()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		slot := store.rooms["room-1"]
		return slot != nil && slot.waiters == 1
	}, 2*time.Second, 5*time.Millisecond)

	first.Release()
	second := <-acquired
	require.NotNil(t, second)
	assert.True(t, second.Active())
	assert.Equal(t, 1, slotCount(store))

	second.Release()
	assert.Equal(t, 0, slotCount(store))
}

func TestSessionStoreCancelledWaiterLeavesNoSlot(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(newMemoryRoomStore())

	first, err := store.Acquire(context.Background(), "room-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.Acquire(ctx, "room-1")
	require.Error(t, err)

	first.Release()
	assert.Equal(t, 0, slotCount(store))
}

func TestLeaseErrExplainsLostRoom(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(newMemoryRoomStore())

	first, err := store.Supersede(context.Background(), "room-1")
	require.NoError(t, err)
	require.NoError(t, first.Err())

	acquired := make(chan *Lease, 1)
	go func() {
		second, err := store.Supersede(context.Background(), "room-1")
		if err == nil {
			acquired <- second
		}
		close(acquired)
	}()

	<-first.Ctx.Done()
	require.ErrorIs(t, first.Err(), ErrSuperseded)
	first.Release()

	second := <-acquired
	require.NotNil(t, second)
	require.NoError(t, second.Err())
	second.Release()
	require.ErrorIs(t, second.Err(), context.Canceled)
}
