package ports

import (
	"context"

	"github.com/bnema/whiteboard-tutor/internal/domain"
)

type RoomRepository interface {
	GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error)
	SaveRoom(ctx context.Context, room domain.Room) error
}

type BoardRepository interface {
	GetBoard(ctx context.Context, roomID domain.RoomID) (domain.Board, error)
	SaveBoard(ctx context.Context, board domain.Board) error
}

type MessageRepository interface {
	ListMessages(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error)
	AppendMessage(ctx context.Context, message domain.Message) error
}

type SessionRepository interface {
	GetSessionState(ctx context.Context, roomID domain.RoomID) (domain.ManagedSessionState, error)
	SaveSessionState(ctx context.Context, state domain.ManagedSessionState) error
}

// RoomStore is the full per-room persistence surface.
type RoomStore interface {
	RoomRepository
	BoardRepository
	MessageRepository
	SessionRepository
}
