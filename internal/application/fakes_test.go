package application

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
	"github.com/bnema/whiteboard-tutor/internal/ports/mocks"
	"github.com/bnema/whiteboard-tutor/internal/stream"
	"github.com/stretchr/testify/mock"
)

// stubClock always reports now.
func stubClock(t *testing.T, now time.Time) *mocks.MockClock {
	clock := mocks.NewMockClock(t)
	clock.EXPECT().Now().Return(now).Maybe()
	return clock
}

type memoryRoomStore struct {
	mu         sync.Mutex
	rooms      map[domain.RoomID]domain.Room
	boards     map[domain.RoomID]domain.Board
	messages   map[domain.RoomID][]domain.Message
	sessions   map[domain.RoomID]domain.ManagedSessionState
	boardSaves int
}

var _ ports.RoomStore = (*memoryRoomStore)(nil)

func newMemoryRoomStore() *memoryRoomStore {
	return &memoryRoomStore{
		rooms:    map[domain.RoomID]domain.Room{},
		boards:   map[domain.RoomID]domain.Board{},
		messages: map[domain.RoomID][]domain.Message{},
		sessions: map[domain.RoomID]domain.ManagedSessionState{},
	}
}

func (s *memoryRoomStore) GetRoom(_ context.Context, id domain.RoomID) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return room, nil
}

func (s *memoryRoomStore) SaveRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room
	return nil
}

func (s *memoryRoomStore) GetBoard(_ context.Context, roomID domain.RoomID) (domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, ok := s.boards[roomID]
	if !ok {
		return domain.Board{}, domain.ErrRoomNotFound
	}
	return board.Clone(), nil
}

func (s *memoryRoomStore) SaveBoard(_ context.Context, board domain.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[board.RoomID] = board.Clone()
	s.boardSaves++
	return nil
}

func (s *memoryRoomStore) ListMessages(_ context.Context, roomID domain.RoomID) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages[roomID]...), nil
}

func (s *memoryRoomStore) AppendMessage(_ context.Context, message domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[message.RoomID] = append(s.messages[message.RoomID], message)
	return nil
}

func (s *memoryRoomStore) GetSessionState(_ context.Context, roomID domain.RoomID) (domain.ManagedSessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[roomID]
	if !ok {
		return domain.ManagedSessionState{}, domain.ErrSessionNotFound
	}
	return state.Clone(), nil
}

func (s *memoryRoomStore) SaveSessionState(_ context.Context, state domain.ManagedSessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.RoomID] = state.Clone()
	return nil
}

func (s *memoryRoomStore) storedMessages(roomID domain.RoomID) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages[roomID]...)
}

type memoryLedgerRepo struct {
	mu      sync.Mutex
	ledgers map[domain.UserID]domain.TokenLedger
	saves   int
}

func newMemoryLedgerRepo(ledgers ...domain.TokenLedger) *memoryLedgerRepo {
	repo := &memoryLedgerRepo{ledgers: map[domain.UserID]domain.TokenLedger{}}
	for _, ledger := range ledgers {
		repo.ledgers[ledger.UserID] = ledger
	}
	return repo
}

func (r *memoryLedgerRepo) GetByUserID(_ context.Context, id domain.UserID) (domain.TokenLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ledger, ok := r.ledgers[id]
	if !ok {
		return domain.TokenLedger{}, domain.ErrLedgerNotFound
	}
	return ledger, nil
}

func (r *memoryLedgerRepo) Save(_ context.Context, ledger domain.TokenLedger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[ledger.UserID] = ledger
	r.saves++
	return nil
}

func (r *memoryLedgerRepo) get(id domain.UserID) domain.TokenLedger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledgers[id]
}

func textLine(content string) string {
	return fmt.Sprintf("{\"type\":\"text\",\"content\":%q}\n", content)
}

func toolLine(args string) string {
	return fmt.Sprintf("{\"type\":\"tool_call\",\"toolName\":%q,\"args\":%s}\n", BoardToolName, args)
}

// recordingSink collects emitted events.
type recordingSink struct {
	events []stream.Event
}

func (s *recordingSink) Emit(ev stream.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) text() string {
	var b strings.Builder
	for _, ev := range s.events {
		if ev.Type == stream.EventText {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

func (s *recordingSink) toolCalls(name string) []stream.Event {
	var out []stream.Event
	for _, ev := range s.events {
		if ev.Type == stream.EventToolCall && ev.ToolName == name {
			out = append(out, ev)
		}
	}
	return out
}

var testPlans = StaticPlanCatalog{
	"free":      100_000,
	"unlimited": domain.UnlimitedTokens,
}

type harness struct {
	clock     *mocks.MockClock
	rooms     *memoryRoomStore
	ledgers   *memoryLedgerRepo
	generator *mocks.MockGenerator
	sessions  *SessionStore
	quota     *QuotaGate
	prompts   *Prompts
}

// newHarness wires services over in-memory ports. Each body is served to one
// generator call, in order.
func newHarness(t *testing.T, prompts *Prompts, bodies ...string) *harness {
	h := &harness{
		clock:     stubClock(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)),
		rooms:     newMemoryRoomStore(),
		ledgers:   newMemoryLedgerRepo(),
		generator: mocks.NewMockGenerator(t),
		prompts:   prompts,
	}
	h.sessions = NewSessionStore(h.rooms)
	h.quota = NewQuotaGate(h.ledgers, testPlans, "free", h.clock, nil)
	h.script(bodies...)
	return h
}

func (h *harness) script(bodies ...string) {
	for _, body := range bodies {
		h.generator.EXPECT().Generate(mock.Anything, mock.Anything).
			Return(io.NopCloser(strings.NewReader(body)), nil).Once()
	}
}

func (h *harness) failNextGenerate(err error) {
	h.generator.EXPECT().Generate(mock.Anything, mock.Anything).Return(nil, err).Once()
}

func (h *harness) requests() []ports.GenerateRequest {
	var out []ports.GenerateRequest
	for _, call := range h.generator.Calls {
		if call.Method == "Generate" {
			out = append(out, call.Arguments.Get(1).(ports.GenerateRequest))
		}
	}
	return out
}

func (h *harness) lastRequest() ports.GenerateRequest {
	requests := h.requests()
	return requests[len(requests)-1]
}

func (h *harness) controller() *PhaseController {
	return NewPhaseController(h.rooms, h.sessions, h.quota, h.generator, h.prompts, h.clock, nil)
}

func (h *harness) chat() *ChatService {
	return NewChatService(h.rooms, h.sessions, h.quota, h.generator, h.prompts, h.clock, nil)
}
