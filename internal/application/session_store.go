package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
)

// SessionStore is the keyed in-memory home of per-room session state. It
// serializes work per room and lets a newer request supersede an older one.
// A room's slot, cached state included, lives only while a lease holds it or
// waits on it.
type SessionStore struct {
	repo ports.SessionRepository

	mu    sync.Mutex
	rooms map[domain.RoomID]*roomSlot
	seq   uint64
}

type roomSlot struct {
	sem     chan struct{}
	state   *domain.ManagedSessionState
	active  uint64
	cancel  context.CancelCauseFunc
	waiters int
}

// ErrSuperseded is the cancellation cause of a request replaced by a newer one.
var ErrSuperseded = errors.New("superseded by a newer request")

func NewSessionStore(repo ports.SessionRepository) *SessionStore {
	return &SessionStore{
		repo:  repo,
		rooms: make(map[domain.RoomID]*roomSlot),
	}
}

// Lease is exclusive access to one room. Ctx is cancelled when the lease is
// superseded or released.
type Lease struct {
	RoomID domain.RoomID
	Ctx    context.Context

	store  *SessionStore
	slot   *roomSlot
	id     uint64
	cancel context.CancelCauseFunc
	once   sync.Once
}

// Acquire waits for the room without disturbing the current holder.
func (s *SessionStore) Acquire(ctx context.Context, roomID domain.RoomID) (*Lease, error) {
	return s.acquire(ctx, roomID, false)
}

// Supersede cancels whatever request currently owns the room, then acquires it.
func (s *SessionStore) Supersede(ctx context.Context, roomID domain.RoomID) (*Lease, error) {
	return s.acquire(ctx, roomID, true)
}

func (s *SessionStore) acquire(ctx context.Context, roomID domain.RoomID, supersede bool) (*Lease, error) {
	leaseCtx, cancel := context.WithCancelCause(ctx)

	s.mu.Lock()
	slot := s.slot(roomID)
	s.seq++
	id := s.seq
	if supersede && slot.cancel != nil {
		slot.cancel(ErrSuperseded)
	}
	if supersede || slot.cancel == nil {
		slot.active = id
		slot.cancel = cancel
	}
	slot.waiters++
	s.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-leaseCtx.Done():
		cancel(nil)
		s.mu.Lock()
		slot.waiters--
		s.deactivateLocked(slot, id)
		s.evictLocked(roomID, slot)
		s.mu.Unlock()
		return nil, fmt.Errorf("acquire room %s: %w", roomID, context.Cause(leaseCtx))
	}

	s.mu.Lock()
	slot.waiters--
	if slot.cancel == nil {
		slot.active = id
		slot.cancel = cancel
	}
	s.mu.Unlock()

	return &Lease{RoomID: roomID, Ctx: leaseCtx, store: s, slot: slot, id: id, cancel: cancel}, nil
}

// Active reports whether the lease is still the newest request for its room.
func (l *Lease) Active() bool {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	return l.slot.active == l.id && l.Ctx.Err() == nil
}

// Err is nil while the lease is active, otherwise why it lost the room.
func (l *Lease) Err() error {
	if l.Active() {
		return nil
	}
	if cause := context.Cause(l.Ctx); cause != nil {
		return cause
	}
	return ErrSuperseded
}

// Release frees the room. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.store.mu.Lock()
		l.store.deactivateLocked(l.slot, l.id)
		l.store.mu.Unlock()
		l.cancel(nil)

		<-l.slot.sem

		l.store.mu.Lock()
		l.store.evictLocked(l.RoomID, l.slot)
		l.store.mu.Unlock()
	})
}

func (s *SessionStore) deactivateLocked(slot *roomSlot, id uint64) {
	if slot.active == id {
		slot.active = 0
		slot.cancel = nil
	}
}

// evictLocked drops a slot nobody holds or waits on.
func (s *SessionStore) evictLocked(roomID domain.RoomID, slot *roomSlot) {
	if slot.waiters > 0 || slot.active != 0 || len(slot.sem) > 0 {
		return
	}
	if s.rooms[roomID] == slot {
		delete(s.rooms, roomID)
	}
}

// slot must be called with s.mu held.
func (s *SessionStore) slot(roomID domain.RoomID) *roomSlot {
	slot, ok := s.rooms[roomID]
	if !ok {
		slot = &roomSlot{sem: make(chan struct{}, 1)}
		s.rooms[roomID] = slot
	}
	return slot
}

// Load returns a copy of the room's session state. The state is cached while
// a lease holds the room and read from the repository otherwise. Rooms
// without state start in hearing_level.
func (s *SessionStore) Load(ctx context.Context, roomID domain.RoomID) (domain.ManagedSessionState, error) {
	s.mu.Lock()
	if slot := s.rooms[roomID]; slot != nil && slot.state != nil {
		state := slot.state.Clone()
		s.mu.Unlock()
		return state, nil
	}
	s.mu.Unlock()

	state, err := s.repo.GetSessionState(ctx, roomID)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ManagedSessionState{}, fmt.Errorf("get session state: %w", err)
		}
		state = domain.NewManagedSessionState(roomID)
	}
	state.RoomID = roomID
	state.Phase = state.Phase.Normalize()

	s.cache(state)
	return state, nil
}

// Save persists state and refreshes the cache only once the write succeeded.
func (s *SessionStore) Save(ctx context.Context, state domain.ManagedSessionState) error {
	if err := s.repo.SaveSessionState(ctx, state); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}

	s.cache(state)
	return nil
}

func (s *SessionStore) cache(state domain.ManagedSessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot := s.rooms[state.RoomID]; slot != nil {
		cached := state.Clone()
		slot.state = &cached
	}
}
