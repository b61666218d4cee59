package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
)

// QuotaStatus is the read model behind GET /quota and `tutor quota show`.
type QuotaStatus struct {
	UserID        domain.UserID   `json:"userId"`
	Plan          domain.PlanName `json:"plan"`
	TokenUsage    int64           `json:"tokenUsage"`
	MonthlyLimit  int64           `json:"monthlyLimit"`
	Remaining     int64           `json:"remaining"`
	Unlimited     bool            `json:"unlimited"`
	LastResetDate string          `json:"lastResetDate"`
}

// RoomStatus is the read model behind `tutor room status`.
type RoomStatus struct {
	Room    domain.Room
	Session domain.ManagedSessionState
	Nodes   int
}

// Queries serves read-only views of rooms and ledgers.
type Queries struct {
	rooms    ports.RoomStore
	sessions *SessionStore
	quota    *QuotaGate
	clock    ports.Clock
	logger   *slog.Logger
}

func NewQueries(rooms ports.RoomStore, sessions *SessionStore, quota *QuotaGate, clock ports.Clock, logger *slog.Logger) *Queries {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Queries{rooms: rooms, sessions: sessions, quota: quota, clock: clock, logger: logger}
}

func (q *Queries) Board(ctx context.Context, userID domain.UserID, roomID domain.RoomID) (domain.Board, error) {
	if _, err := ensureRoom(ctx, q.rooms, q.clock, userID, roomID); err != nil {
		return domain.Board{}, err
	}
	return loadBoard(ctx, q.rooms, roomID)
}

func (q *Queries) Messages(ctx context.Context, userID domain.UserID, roomID domain.RoomID) ([]domain.Message, error) {
	if _, err := ensureRoom(ctx, q.rooms, q.clock, userID, roomID); err != nil {
		return nil, err
	}

	messages, err := q.rooms.ListMessages(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// RoomStatus reads a room without creating it.
func (q *Queries) RoomStatus(ctx context.Context, roomID domain.RoomID) (RoomStatus, error) {
	room, err := q.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return RoomStatus{}, fmt.Errorf("get room: %w", err)
	}

	state, err := q.sessions.Load(ctx, roomID)
	if err != nil {
		return RoomStatus{}, err
	}

	board, err := loadBoard(ctx, q.rooms, roomID)
	if err != nil {
		return RoomStatus{}, err
	}

	return RoomStatus{Room: room, Session: state, Nodes: len(board.Nodes)}, nil
}

func (q *Queries) Quota(ctx context.Context, userID domain.UserID) (QuotaStatus, error) {
	ledger, plan, err := q.quota.Ledger(ctx, userID)
	if err != nil {
		return QuotaStatus{}, err
	}

	status := QuotaStatus{
		UserID:        userID,
		Plan:          plan.Name,
		TokenUsage:    ledger.TokenUsage,
		MonthlyLimit:  plan.MonthlyLimit,
		Unlimited:     plan.Unlimited(),
		LastResetDate: ledger.LastResetDate.UTC().Format(time.RFC3339),
	}
	if !status.Unlimited {
		status.Remaining = ledger.Remaining(plan.MonthlyLimit)
	}
	return status, nil
}
