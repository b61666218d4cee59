package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
	"github.com/google/uuid"
)

// ApplyResult summarizes one tool-call batch.
type ApplyResult struct {
	Comment     string
	Created     int
	Updated     int
	Deleted     int
	Skipped     int
	Suggestions []string
	// SuggestionsReplaced is true when the call carried a suggestion list.
	SuggestionsReplaced bool
	// Applied lists the effective operations with server-assigned ids.
	Applied []AppliedOperation
}

// AppliedOperation is an operation as it landed on the board. For create and
// update Node is the node after the merge; for delete only Node.ID is set.
type AppliedOperation struct {
	Action domain.OperationAction `json:"action"`
	Node   domain.BoardNode       `json:"node"`
}

// Changed reports whether the board's nodes or suggestions were touched.
func (r ApplyResult) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0 || r.SuggestionsReplaced
}

type BoardApplier struct {
	clock  ports.Clock
	logger *slog.Logger
	newID  func() domain.NodeID
}

func NewBoardApplier(clock ports.Clock, logger *slog.Logger) *BoardApplier {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &BoardApplier{
		clock:  clock,
		logger: logger,
		newID: func() domain.NodeID {
			return domain.NodeID(uuid.NewString())
		},
	}
}

// Apply runs args.Operations against board strictly in array order. Unknown
// targets are dropped, never reported as errors. LastUpdated moves once per
// batch, and only when something changed.
func (a *BoardApplier) Apply(ctx context.Context, board *domain.Board, turnID string, args domain.ToolCallArgs) ApplyResult {
	result := ApplyResult{Comment: args.Comment}
	now := a.clock.Now()

	for i, op := range args.Operations {
		var err error
		switch op.Action {
		case domain.ActionCreate:
			id, added := a.create(board, turnID, op.Node, now)
			if added {
				result.Created++
			} else {
				result.Updated++
			}
			node, _ := board.Node(id)
			result.Applied = append(result.Applied, AppliedOperation{Action: domain.ActionCreate, Node: node})
		case domain.ActionUpdate:
			err = a.update(board, op.Node)
			if err == nil {
				result.Updated++
				node, _ := board.Node(op.Node.ID)
				result.Applied = append(result.Applied, AppliedOperation{Action: domain.ActionUpdate, Node: node})
			}
		case domain.ActionDelete:
			err = a.delete(board, op.Node.ID)
			if err == nil {
				result.Deleted++
				result.Applied = append(result.Applied, AppliedOperation{
					Action: domain.ActionDelete,
					Node:   domain.BoardNode{ID: op.Node.ID},
				})
			}
		default:
			err = fmt.Errorf("unknown action %q", op.Action)
		}

		if err != nil {
			result.Skipped++
			level := slog.LevelWarn
			if errors.Is(err, domain.ErrUnknownOperationTarget) {
				level = slog.LevelDebug
			}
			a.logger.Log(ctx, level, "board operation dropped",
				slog.String("room_id", string(board.RoomID)),
				slog.Int("index", i),
				slog.String("action", string(op.Action)),
				slog.String("error", err.Error()),
			)
		}
	}

	if args.HasSuggestions {
		board.Suggestions = append([]string{}, args.SuggestedQuestions...)
		result.SuggestionsReplaced = true
	}
	if board.Suggestions != nil {
		result.Suggestions = append([]string(nil), board.Suggestions...)
	}

	if result.Changed() {
		board.LastUpdated = now
	}

	return result
}

// create appends a node, or merges into an existing node when the model reuses
// a live id. It returns the node id and whether a new node was added.
func (a *BoardApplier) create(board *domain.Board, turnID string, patch domain.NodePatch, now time.Time) (domain.NodeID, bool) {
	if patch.ID != "" {
		if idx := board.IndexOf(patch.ID); idx >= 0 {
			mergeNode(&board.Nodes[idx], patch)
			return patch.ID, false
		}
	}

	node := domain.BoardNode{
		ID:         patch.ID,
		Type:       domain.NodeTypeText,
		ChatTurnID: turnID,
		CreatedBy:  domain.AuthorAI,
		CreatedAt:  now,
	}
	if node.ID == "" {
		node.ID = a.newID()
	}
	if patch.CreatedAt != nil {
		node.CreatedAt = *patch.CreatedAt
	}
	mergeNode(&node, patch)

	board.Nodes = insertInTurn(board.Nodes, node)
	return node.ID, true
}

func (a *BoardApplier) update(board *domain.Board, patch domain.NodePatch) error {
	idx := board.IndexOf(patch.ID)
	if idx < 0 {
		return fmt.Errorf("update %s: %w", patch.ID, domain.ErrUnknownOperationTarget)
	}

	mergeNode(&board.Nodes[idx], patch)
	return nil
}

func (a *BoardApplier) delete(board *domain.Board, id domain.NodeID) error {
	idx := board.IndexOf(id)
	if idx < 0 {
		return fmt.Errorf("delete %s: %w", id, domain.ErrUnknownOperationTarget)
	}

	board.Nodes = append(board.Nodes[:idx], board.Nodes[idx+1:]...)
	return nil
}

// mergeNode copies the supplied fields of patch onto node. The id and the
// creation timestamp are never rewritten.
func mergeNode(node *domain.BoardNode, patch domain.NodePatch) {
	if patch.Type != nil {
		node.Type = *patch.Type
	}
	if patch.Content != nil {
		node.Content = *patch.Content
	}
	if patch.Style != nil {
		node.Style = append([]byte(nil), patch.Style...)
	}
	if patch.CreatedBy != nil {
		node.CreatedBy = *patch.CreatedBy
	}
}

// insertInTurn keeps nodes of one turn contiguous: a node joining an earlier
// turn group lands right after that group's last node.
func insertInTurn(nodes []domain.BoardNode, node domain.BoardNode) []domain.BoardNode {
	if node.ChatTurnID == "" {
		return append(nodes, node)
	}

	last := -1
	for i := range nodes {
		if nodes[i].ChatTurnID == node.ChatTurnID {
			last = i
		}
	}
	if last < 0 || last == len(nodes)-1 {
		return append(nodes, node)
	}

	nodes = append(nodes, domain.BoardNode{})
	copy(nodes[last+2:], nodes[last+1:])
	nodes[last+1] = node
	return nodes
}
