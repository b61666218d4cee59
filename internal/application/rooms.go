package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
)

// ensureRoom returns the room, creating it on first access. Rooms owned by
// another user are reported as not found.
func ensureRoom(ctx context.Context, rooms ports.RoomRepository, clock ports.Clock, userID domain.UserID, roomID domain.RoomID) (domain.Room, error) {
	room, err := rooms.GetRoom(ctx, roomID)
	if err == nil {
		if room.OwnerID != "" && room.OwnerID != userID {
			return domain.Room{}, fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
		}
		return room, nil
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return domain.Room{}, fmt.Errorf("get room: %w", err)
	}

	now := clock.Now()
	room = domain.Room{ID: roomID, OwnerID: userID, CreatedAt: now, UpdatedAt: now}
	if err := rooms.SaveRoom(ctx, room); err != nil {
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

// loadBoard returns the room's board, or an empty one when none is stored yet.
func loadBoard(ctx context.Context, boards ports.BoardRepository, roomID domain.RoomID) (domain.Board, error) {
	board, err := boards.GetBoard(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return domain.Board{RoomID: roomID, Nodes: []domain.BoardNode{}}, nil
		}
		return domain.Board{}, fmt.Errorf("get board: %w", err)
	}
	board.RoomID = roomID
	return board, nil
}

// commitTurn appends the user message and the model reply of one turn.
// It runs only after the stream closed cleanly.
func commitTurn(ctx context.Context, messages ports.MessageRepository, clock ports.Clock, newID func() string, roomID domain.RoomID, turnID string, user *domain.Message, reply string) error {
	now := clock.Now()

	if user != nil {
		msg := *user
		if msg.ID == "" {
			msg.ID = domain.MessageID(newID())
		}
		msg.RoomID = roomID
		msg.Role = domain.RoleUser
		msg.TurnID = turnID
		msg.CreatedAt = now
		if err := messages.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("append user message: %w", err)
		}
	}

	if reply == "" {
		return nil
	}

	msg := domain.TextMessage(roomID, domain.RoleModel, reply)
	msg.ID = domain.MessageID(newID())
	msg.TurnID = turnID
	// Keep the reply strictly after the user message it answers.
	msg.CreatedAt = now.Add(1)
	if err := messages.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("append model message: %w", err)
	}
	return nil
}
