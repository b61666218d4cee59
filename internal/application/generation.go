package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
	"github.com/bnema/whiteboard-tutor/internal/stream"
)

// turnOutcome is what one generator call produced.
type turnOutcome struct {
	Text            string
	Comment         string
	Suggestions     []string
	Applied         []ApplyResult
	CompletionChars int
}

// Reply is the chat content of the turn: the last tool-call comment, or the
// concatenated text deltas when no tool call produced one.
func (o turnOutcome) Reply() string {
	if strings.TrimSpace(o.Comment) != "" {
		return o.Comment
	}
	return o.Text
}

// boardToolArgs is the re-encoded tool call sent to clients, carrying the
// operations as they were applied.
type boardToolArgs struct {
	Comment            string             `json:"comment"`
	Operations         []AppliedOperation `json:"operations"`
	SuggestedQuestions []string           `json:"suggestedQuestions,omitempty"`
}

// turnRunner drives one generator call: decode the stream, forward text,
// apply tool calls to the board and persist each batch.
type turnRunner struct {
	generator ports.Generator
	boards    ports.BoardRepository
	applier   *BoardApplier
	logger    *slog.Logger
}

// run streams a generation into sink. board may be nil for text-only turns, in
// which case tool calls are forwarded untouched.
func (r *turnRunner) run(ctx context.Context, req ports.GenerateRequest, board *domain.Board, turnID string, sink stream.Sink) (turnOutcome, error) {
	if sink == nil {
		sink = stream.Discard
	}

	var outcome turnOutcome
	body, err := r.generator.Generate(ctx, req)
	if err != nil {
		return outcome, upstreamError(ctx, err)
	}
	defer body.Close()

	logger := r.logger.With(slog.String("turn_id", turnID))
	if board != nil {
		logger = logger.With(slog.String("room_id", string(board.RoomID)))
	}

	var text strings.Builder
	decoder := stream.NewDecoder(ctx, body, stream.WithLogger(logger))
	for decoder.Next() {
		event := decoder.Event()
		switch event.Type {
		case stream.EventText:
			text.WriteString(event.Content)
			outcome.CompletionChars += domain.CharCount(event.Content)
			if err := sink.Emit(event); err != nil {
				return outcome, fmt.Errorf("emit text: %w", err)
			}
		case stream.EventToolCall:
			outcome.CompletionChars += domain.CharCount(string(event.Args))
			forward, err := r.applyToolCall(ctx, logger, event, board, turnID, &outcome)
			if err != nil {
				return outcome, err
			}
			if err := sink.Emit(forward); err != nil {
				return outcome, fmt.Errorf("emit tool call: %w", err)
			}
		}
	}

	outcome.Text = text.String()
	if err := decoder.Err(); err != nil {
		return outcome, upstreamError(ctx, err)
	}

	return outcome, nil
}

func (r *turnRunner) applyToolCall(ctx context.Context, logger *slog.Logger, event stream.Event, board *domain.Board, turnID string, outcome *turnOutcome) (stream.Event, error) {
	if board == nil {
		return event, nil
	}

	args, dropped, err := DecodeToolCallArgs(event.Args)
	if err != nil {
		logger.Warn("tool call dropped", slog.String("tool", event.ToolName), slog.String("error", err.Error()))
		return stream.ToolCall(event.ToolName, boardToolArgs{Operations: []AppliedOperation{}})
	}
	for _, drop := range dropped {
		logger.Warn("board operation malformed",
			slog.String("tool", event.ToolName),
			slog.Int("index", drop.Index),
			slog.String("reason", drop.Reason),
		)
	}

	result := r.applier.Apply(ctx, board, turnID, args)
	outcome.Applied = append(outcome.Applied, result)
	if strings.TrimSpace(args.Comment) != "" {
		outcome.Comment = args.Comment
	}
	if result.SuggestionsReplaced {
		outcome.Suggestions = result.Suggestions
	}

	if result.Changed() {
		if err := r.boards.SaveBoard(ctx, *board); err != nil {
			return stream.Event{}, fmt.Errorf("save board: %w", err)
		}
	}

	applied := result.Applied
	if applied == nil {
		applied = []AppliedOperation{}
	}
	return stream.ToolCall(event.ToolName, boardToolArgs{
		Comment:            args.Comment,
		Operations:         applied,
		SuggestedQuestions: args.SuggestedQuestions,
	})
}

// collect runs a text-only generation and returns the concatenated deltas.
func (r *turnRunner) collect(ctx context.Context, req ports.GenerateRequest) (turnOutcome, error) {
	return r.run(ctx, req, nil, "", stream.Discard)
}

// upstreamError classifies generator failures. Cancellation and missing
// credentials keep their identity; everything else becomes ErrUpstreamGenerator.
func upstreamError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("generate: %w", context.Cause(ctx))
	}
	if errors.Is(err, domain.ErrMissingCredential) || errors.Is(err, domain.ErrUpstreamGenerator) {
		return fmt.Errorf("generate: %w", err)
	}
	return fmt.Errorf("generate: %w: %w", domain.ErrUpstreamGenerator, err)
}

func historyChars(messages []domain.Message) int {
	total := 0
	for _, message := range messages {
		total += domain.CharCount(message.Text())
	}
	return total
}
