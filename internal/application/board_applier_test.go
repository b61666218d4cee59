package application

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeNodeBoard(created time.Time) domain.Board {
	return domain.Board{
		RoomID: "room-1",
		Nodes: []domain.BoardNode{
			{ID: "n1", Type: domain.NodeTypeText, Content: "one", CreatedBy: domain.AuthorAI, CreatedAt: created, ChatTurnID: "t0"},
			{ID: "n2", Type: domain.NodeTypeSticky, Content: "two", CreatedBy: domain.AuthorUser, CreatedAt: created},
			{ID: "n3", Type: domain.NodeTypeQuiz, Content: "three", CreatedBy: domain.AuthorAI, CreatedAt: created, ChatTurnID: "t0"},
		},
		LastUpdated: created,
	}
}

func decodeArgs(t *testing.T, raw string) domain.ToolCallArgs {
	t.Helper()
	args, _, err := DecodeToolCallArgs(json.RawMessage(raw))
	require.NoError(t, err)
	return args
}

func newTestApplier(clock ports.Clock) *BoardApplier {
	applier := NewBoardApplier(clock, nil)
	seq := 0
	applier.newID = func() domain.NodeID {
		seq++
		return domain.NodeID(fmt.Sprintf("gen-%d", seq))
	}
	return applier
}

func TestApplyUpdateMissingIDLeavesBoardUnchanged(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := stubClock(t, created.Add(time.Hour))
	board := threeNodeBoard(created)
	before := board.Clone()

	args := decodeArgs(t, `{"comment":"","operations":[{"action":"update","node":{"id":"missing-id","content":"changed"}}]}`)
	result := newTestApplier(clock).Apply(context.Background(), &board, "t1", args)

	require.Len(t, board.Nodes, 3)
	for i := range before.Nodes {
		assert.Equal(t, before.Nodes[i].Content, board.Nodes[i].Content)
	}
	assert.Equal(t, 1, result.Skipped)
	assert.False(t, result.Changed())
	assert.Equal(t, created, board.LastUpdated)
}

func TestApplyRunsOperationsInOrder(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	clock := stubClock(t, now)
	board := domain.Board{RoomID: "room-1"}

	args := decodeArgs(t, `{"comment":"done","operations":[
		{"action":"create","node":{"id":"a","type":"equation","content":"x=1"}},
		{"action":"update","node":{"id":"a","content":"x=2"}},
		{"action":"create","node":{}},
		{"action":"delete","node":{"id":"a"}}
	]}`)
	result := newTestApplier(clock).Apply(context.Background(), &board, "turn-9", args)

	require.Len(t, board.Nodes, 1)
	node := board.Nodes[0]
	assert.Equal(t, domain.NodeID("gen-1"), node.ID)
	assert.Equal(t, domain.NodeTypeText, node.Type)
	assert.Equal(t, "", node.Content)
	assert.Equal(t, domain.AuthorAI, node.CreatedBy)
	assert.Equal(t, "turn-9", node.ChatTurnID)
	assert.Equal(t, now, node.CreatedAt)

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, "done", result.Comment)
	assert.Equal(t, now, board.LastUpdated)
	require.Len(t, result.Applied, 4)
	assert.Equal(t, "x=2", result.Applied[1].Node.Content)
	assert.Equal(t, domain.NodeID("a"), result.Applied[3].Node.ID)
}

func TestApplyReplayIdempotence(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		args       string
		firstLen   int
		replayLen  int
		idempotent bool
	}{
		{
			name:      "create without id always adds",
			args:      `{"operations":[{"action":"create","node":{"content":"new"}}]}`,
			firstLen:  4,
			replayLen: 5,
		},
		{
			name:       "update existing id",
			args:       `{"operations":[{"action":"update","node":{"id":"n2","content":"patched","type":"problem"}}]}`,
			firstLen:   3,
			replayLen:  3,
			idempotent: true,
		},
		{
			name:       "delete existing id",
			args:       `{"operations":[{"action":"delete","node":{"id":"n1"}}]}`,
			firstLen:   2,
			replayLen:  2,
			idempotent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			applier := newTestApplier(stubClock(t, created.Add(time.Minute)))
			board := threeNodeBoard(created)
			args := decodeArgs(t, tt.args)

			applier.Apply(context.Background(), &board, "t1", args)
			require.Len(t, board.Nodes, tt.firstLen)
			first := board.Clone()

			applier.Apply(context.Background(), &board, "t1", args)
			require.Len(t, board.Nodes, tt.replayLen)
			if tt.idempotent {
				assert.Equal(t, first.Nodes, board.Nodes)
			}
		})
	}
}

func TestApplyUpdateMergesWithoutTouchingIdentity(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	board := threeNodeBoard(created)

	args := decodeArgs(t, `{"operations":[{"action":"update","node":{"id":"n2","style":{"color":"red"}}}]}`)
	newTestApplier(stubClock(t, created.Add(time.Hour))).Apply(context.Background(), &board, "t1", args)

	node, ok := board.Node("n2")
	require.True(t, ok)
	assert.Equal(t, "two", node.Content)
	assert.Equal(t, domain.NodeTypeSticky, node.Type)
	assert.Equal(t, domain.AuthorUser, node.CreatedBy)
	assert.Equal(t, created, node.CreatedAt)
	assert.JSONEq(t, `{"color":"red"}`, string(node.Style))
}

func TestApplyCreateWithLiveIDMerges(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	board := threeNodeBoard(created)

	args := decodeArgs(t, `{"operations":[{"action":"create","node":{"id":"n1","content":"again"}}]}`)
	result := newTestApplier(stubClock(t, created)).Apply(context.Background(), &board, "t1", args)

	require.Len(t, board.Nodes, 3)
	assert.Equal(t, "again", board.Nodes[0].Content)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Updated)
}

func TestApplyKeepsTurnGroupsContiguous(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	board := domain.Board{
		RoomID: "room-1",
		Nodes: []domain.BoardNode{
			{ID: "a1", ChatTurnID: "a"},
			{ID: "b1", ChatTurnID: "b"},
		},
	}

	args := decodeArgs(t, `{"operations":[{"action":"create","node":{"id":"a2"}}]}`)
	newTestApplier(stubClock(t, created)).Apply(context.Background(), &board, "a", args)

	ids := make([]domain.NodeID, 0, len(board.Nodes))
	for _, node := range board.Nodes {
		ids = append(ids, node.ID)
	}
	assert.Equal(t, []domain.NodeID{"a1", "a2", "b1"}, ids)
}

func TestApplySuggestionsReplaceOnlyWhenPresent(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	applier := newTestApplier(stubClock(t, created.Add(time.Hour)))

	board := threeNodeBoard(created)
	board.Suggestions = []string{"old"}

	result := applier.Apply(context.Background(), &board, "t1", decodeArgs(t, `{"comment":"x","operations":[]}`))
	assert.Equal(t, []string{"old"}, board.Suggestions)
	assert.False(t, result.Changed())
	assert.Equal(t, created, board.LastUpdated)

	result = applier.Apply(context.Background(), &board, "t1", decodeArgs(t, `{"comment":"x","operations":[],"suggestedQuestions":["a","b"]}`))
	assert.Equal(t, []string{"a", "b"}, board.Suggestions)
	assert.True(t, result.SuggestionsReplaced)
	assert.Equal(t, created.Add(time.Hour), board.LastUpdated)
}

func TestDecodeToolCallArgsDropsMalformedOperations(t *testing.T) {
	t.Parallel()

	raw := `{
		"comment": "hello",
		"operations": [
			"not an object",
			{"action": "explode", "node": {"id": "n1"}},
			{"action": "update", "node": {"content": "no id"}},
			{"action": "delete"},
			{"action": "CREATE", "node": {"type": "diagram", "content": 42}},
			{"action": "update", "node": {"id": "n1", "createdBy": "robot"}}
		],
		"suggestedQuestions": ["why?", "", 7]
	}`

	args, dropped, err := DecodeToolCallArgs(json.RawMessage(raw))
	require.NoError(t, err)

	assert.Equal(t, "hello", args.Comment)
	assert.True(t, args.HasSuggestions)
	assert.Equal(t, []string{"why?", "7"}, args.SuggestedQuestions)

	require.Len(t, args.Operations, 2)
	create := args.Operations[0]
	assert.Equal(t, domain.ActionCreate, create.Action)
	assert.Nil(t, create.Node.Type)
	require.NotNil(t, create.Node.Content)
	assert.Equal(t, "42", *create.Node.Content)

	update := args.Operations[1]
	assert.Equal(t, domain.NodeID("n1"), update.Node.ID)
	assert.Nil(t, update.Node.CreatedBy)

	indexes := make([]int, 0, len(dropped))
	for _, drop := range dropped {
		indexes = append(indexes, drop.Index)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, indexes)
}

func TestDecodeToolCallArgsRejectsNonObject(t *testing.T) {
	t.Parallel()

	_, _, err := DecodeToolCallArgs(json.RawMessage(`"just text"`))
	require.ErrorIs(t, err, domain.ErrDecode)

	args, dropped, err := DecodeToolCallArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, dropped)
	assert.False(t, args.HasSuggestions)
}
