package application

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/whiteboard-tutor/internal/domain"
)

// BoardToolName is the tool the generator calls to mutate the whiteboard.
const BoardToolName = "update_whiteboard"

type rawToolArgs struct {
	Comment            json.RawMessage   `json:"comment"`
	Operations         []json.RawMessage `json:"operations"`
	SuggestedQuestions json.RawMessage   `json:"suggestedQuestions"`
}

type rawOperation struct {
	Action string          `json:"action"`
	Node   json.RawMessage `json:"node"`
}

type rawNode struct {
	ID        *string         `json:"id"`
	Type      *string         `json:"type"`
	Content   json.RawMessage `json:"content"`
	Style     json.RawMessage `json:"style"`
	CreatedBy *string         `json:"createdBy"`
	CreatedAt *string         `json:"createdAt"`
}

// DroppedOperation describes an operation the decoder refused.
type DroppedOperation struct {
	Index  int
	Reason string
}

// DecodeToolCallArgs validates a loosely-typed tool payload. Malformed
// operations are downgraded to drops instead of failing the whole call.
// Only a payload that is not a JSON object at all returns an error.
func DecodeToolCallArgs(raw json.RawMessage) (domain.ToolCallArgs, []DroppedOperation, error) {
	var args domain.ToolCallArgs
	if len(strings.TrimSpace(string(raw))) == 0 {
		return args, nil, nil
	}

	var payload rawToolArgs
	if err := json.Unmarshal(raw, &payload); err != nil {
		return args, nil, fmt.Errorf("%w: tool args: %w", domain.ErrDecode, err)
	}

	args.Comment = looseString(payload.Comment)

	if questions, ok := stringList(payload.SuggestedQuestions); ok {
		args.SuggestedQuestions = questions
		args.HasSuggestions = true
	}

	var dropped []DroppedOperation
	for i, rawOp := range payload.Operations {
		op, err := decodeOperation(rawOp)
		if err != nil {
			dropped = append(dropped, DroppedOperation{Index: i, Reason: err.Error()})
			continue
		}
		args.Operations = append(args.Operations, op)
	}

	return args, dropped, nil
}

func decodeOperation(raw json.RawMessage) (domain.Operation, error) {
	var op rawOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return domain.Operation{}, fmt.Errorf("operation is not an object: %w", err)
	}

	action := domain.OperationAction(strings.ToLower(strings.TrimSpace(op.Action)))
	switch action {
	case domain.ActionCreate, domain.ActionUpdate, domain.ActionDelete:
	default:
		return domain.Operation{}, fmt.Errorf("unknown action %q", op.Action)
	}

	var node rawNode
	if len(op.Node) > 0 && string(op.Node) != "null" {
		if err := json.Unmarshal(op.Node, &node); err != nil {
			return domain.Operation{}, fmt.Errorf("node is not an object: %w", err)
		}
	}

	patch := domain.NodePatch{}
	if node.ID != nil {
		patch.ID = domain.NodeID(strings.TrimSpace(*node.ID))
	}
	if action != domain.ActionCreate && patch.ID == "" {
		return domain.Operation{}, fmt.Errorf("%s requires node.id", action)
	}

	if node.Type != nil {
		nodeType := domain.NodeType(strings.ToLower(strings.TrimSpace(*node.Type)))
		if nodeType.Valid() {
			patch.Type = &nodeType
		}
	}
	if len(node.Content) > 0 && string(node.Content) != "null" {
		content := looseString(node.Content)
		patch.Content = &content
	}
	if len(node.Style) > 0 && string(node.Style) != "null" {
		patch.Style = append(json.RawMessage(nil), node.Style...)
	}
	if node.CreatedBy != nil {
		author := domain.Author(*node.CreatedBy)
		if author == domain.AuthorUser || author == domain.AuthorAI {
			patch.CreatedBy = &author
		}
	}
	if node.CreatedAt != nil {
		if parsed, err := time.Parse(time.RFC3339Nano, *node.CreatedAt); err == nil {
			patch.CreatedAt = &parsed
		}
	}

	return domain.Operation{Action: action, Node: patch}, nil
}

// looseString accepts a JSON string, or renders any other scalar/object as text.
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}

func stringList(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(looseString(item)); s != "" {
			out = append(out, s)
		}
	}
	return out, true
}
