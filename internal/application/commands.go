package application

import "github.com/bnema/whiteboard-tutor/internal/domain"

// ChatCommand is one free-chat message.
type ChatCommand struct {
	UserID    domain.UserID
	RoomID    domain.RoomID
	MessageID domain.MessageID
	Text      string
	Files     []domain.Part
}

// InboundMessageCommand is a user message for the guided session. MessageID
// must be stable across retries of the same message.
type InboundMessageCommand struct {
	UserID    domain.UserID
	RoomID    domain.RoomID
	MessageID domain.MessageID
	Text      string
}

type AdvanceCommand struct {
	UserID    domain.UserID
	RoomID    domain.RoomID
	IsCorrect bool
}

type EvaluateCommand struct {
	UserID   domain.UserID
	RoomID   domain.RoomID
	Question string
	Answer   string
}

type ToggleImportanceCommand struct {
	UserID   domain.UserID
	RoomID   domain.RoomID
	Position domain.Position
}

type ReplaceRoadmapCommand struct {
	UserID  domain.UserID
	RoomID  domain.RoomID
	Roadmap domain.Roadmap
}
