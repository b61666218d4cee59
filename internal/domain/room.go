package domain

import "time"

type RoomID string

type UserID string

type MessageID string

// Room is the identity boundary for a board, a message sequence and at most
// one managed session.
type Room struct {
	ID        RoomID    `json:"id"`
	OwnerID   UserID    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is either inline text or a reference to an uploaded file.
type Part struct {
	Text     string `json:"text,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type Message struct {
	ID        MessageID `json:"id"`
	RoomID    RoomID    `json:"roomId"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	TurnID    string    `json:"turnId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func TextMessage(roomID RoomID, role Role, text string) Message {
	return Message{RoomID: roomID, Role: role, Parts: []Part{{Text: text}}}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	if len(m.Parts) == 1 {
		return m.Parts[0].Text
	}

	var out string
	for _, part := range m.Parts {
		out += part.Text
	}
	return out
}
