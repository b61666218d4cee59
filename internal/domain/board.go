package domain

import (
	"encoding/json"
	"time"
)

type NodeID string

type NodeType string

const (
	NodeTypeText     NodeType = "text"
	NodeTypeSticky   NodeType = "sticky"
	NodeTypeEquation NodeType = "equation"
	NodeTypeProblem  NodeType = "problem"
	NodeTypeQuiz     NodeType = "quiz"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeText, NodeTypeSticky, NodeTypeEquation, NodeTypeProblem, NodeTypeQuiz:
		return true
	default:
		return false
	}
}

type Author string

const (
	AuthorUser Author = "user"
	AuthorAI   Author = "ai"
)

// BoardNode is one content item on a room's whiteboard. Style is kept opaque.
type BoardNode struct {
	ID         NodeID          `json:"id"`
	Type       NodeType        `json:"type"`
	Content    string          `json:"content"`
	Style      json.RawMessage `json:"style,omitempty"`
	ChatTurnID string          `json:"chatTurnId,omitempty"`
	CreatedBy  Author          `json:"createdBy"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Board owns the ordered node collection of a room. Nodes sharing a
// ChatTurnID are contiguous in creation order.
type Board struct {
	RoomID      RoomID      `json:"roomId"`
	Nodes       []BoardNode `json:"nodes"`
	Suggestions []string    `json:"suggestedQuestions"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

func (b *Board) IndexOf(id NodeID) int {
	for i := range b.Nodes {
		if b.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Board) Node(id NodeID) (BoardNode, bool) {
	idx := b.IndexOf(id)
	if idx < 0 {
		return BoardNode{}, false
	}
	return b.Nodes[idx], true
}

// Clone returns a deep copy so cached boards are never shared with callers.
func (b Board) Clone() Board {
	out := b
	out.Nodes = make([]BoardNode, len(b.Nodes))
	for i, node := range b.Nodes {
		if node.Style != nil {
			node.Style = append(json.RawMessage(nil), node.Style...)
		}
		out.Nodes[i] = node
	}
	if b.Suggestions != nil {
		out.Suggestions = append([]string(nil), b.Suggestions...)
	}
	return out
}

type OperationAction string

const (
	ActionCreate OperationAction = "create"
	ActionUpdate OperationAction = "update"
	ActionDelete OperationAction = "delete"
)

// NodePatch carries the fields an operation supplies. Nil fields are absent.
type NodePatch struct {
	ID        NodeID
	Type      *NodeType
	Content   *string
	Style     json.RawMessage
	CreatedBy *Author
	CreatedAt *time.Time
}

type Operation struct {
	Action OperationAction
	Node   NodePatch
}

// ToolCallArgs is the validated payload of a board tool call.
type ToolCallArgs struct {
	Comment            string
	Operations         []Operation
	SuggestedQuestions []string
	HasSuggestions     bool
}
