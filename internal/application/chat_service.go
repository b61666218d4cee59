package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
	"github.com/bnema/whiteboard-tutor/internal/stream"
	"github.com/google/uuid"
)

// ChatService is the free-chat path: quota pre-flight, one generation with
// board operations, commit on clean end, post-hoc consumption.
type ChatService struct {
	rooms    ports.RoomStore
	sessions *SessionStore
	quota    *QuotaGate
	prompts  *Prompts
	runner   *turnRunner
	clock    ports.Clock
	logger   *slog.Logger
	newID    func() string
}

func NewChatService(rooms ports.RoomStore, sessions *SessionStore, quota *QuotaGate, generator ports.Generator, prompts *Prompts, clock ports.Clock, logger *slog.Logger) *ChatService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ChatService{
		rooms:    rooms,
		sessions: sessions,
		quota:    quota,
		prompts:  prompts,
		runner: &turnRunner{
			generator: generator,
			boards:    rooms,
			applier:   NewBoardApplier(clock, logger),
			logger:    logger,
		},
		clock:  clock,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Stream answers cmd, writing records to sink as they are decoded. A newer
// message for the same room cancels this one.
func (s *ChatService) Stream(ctx context.Context, cmd ChatCommand, sink stream.Sink) error {
	lease, err := s.sessions.Supersede(ctx, cmd.RoomID)
	if err != nil {
		return err
	}
	defer lease.Release()
	ctx = lease.Ctx

	if _, err := ensureRoom(ctx, s.rooms, s.clock, cmd.UserID, cmd.RoomID); err != nil {
		return err
	}

	board, err := loadBoard(ctx, s.rooms, cmd.RoomID)
	if err != nil {
		return err
	}
	history, err := s.rooms.ListMessages(ctx, cmd.RoomID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	boardJSON, err := json.Marshal(board.Nodes)
	if err != nil {
		return fmt.Errorf("encode board: %w", err)
	}
	instruction, err := s.prompts.Instruction("chat", map[string]any{"Board": string(boardJSON)})
	if err != nil {
		return err
	}

	user := domain.Message{ID: cmd.MessageID, RoomID: cmd.RoomID, Role: domain.RoleUser, Parts: chatParts(cmd)}
	req := ports.GenerateRequest{
		SystemInstruction: instruction,
		History:           append(history, user),
		Tools:             s.prompts.BoardTool(),
	}

	promptChars := domain.CharCount(instruction) + historyChars(req.History)
	estimate := domain.EstimateTokens(promptChars, 0)
	decision, err := s.quota.CanConsume(ctx, cmd.UserID, estimate)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	if !decision.Allowed {
		return &domain.QuotaExceededError{Requested: estimate, Remaining: decision.Remaining}
	}

	turnID := s.newID()
	outcome, err := s.runner.run(ctx, req, &board, turnID, sink)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamGenerator) {
			s.emitFailure(sink)
		}
		return err
	}

	if err := lease.Err(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	if err := commitTurn(ctx, s.rooms, s.clock, s.newID, cmd.RoomID, turnID, &user, outcome.Reply()); err != nil {
		return err
	}

	recordUsage(ctx, s.quota, s.logger, cmd.UserID, promptChars, outcome.CompletionChars)
	return nil
}

func (s *ChatService) emitFailure(sink stream.Sink) {
	text, err := s.prompts.Reply("upstream_failure", nil)
	if err != nil {
		s.logger.Error("render failure reply", slog.String("error", err.Error()))
		return
	}
	if err := sink.Emit(stream.TextDelta(text)); err != nil {
		s.logger.Debug("emit failure reply", slog.String("error", err.Error()))
	}
}

func chatParts(cmd ChatCommand) []domain.Part {
	parts := make([]domain.Part, 0, len(cmd.Files)+1)
	if cmd.Text != "" {
		parts = append(parts, domain.Part{Text: cmd.Text})
	}
	return append(parts, cmd.Files...)
}

// recordUsage charges a finished generation. A refusal at this point cannot
// undo the response, so it is only logged.
func recordUsage(ctx context.Context, quota *QuotaGate, logger *slog.Logger, userID domain.UserID, promptChars, completionChars int) {
	amount := domain.EstimateTokens(promptChars, completionChars)
	if amount == 0 {
		return
	}

	if _, err := quota.Consume(context.WithoutCancel(ctx), userID, amount); err != nil {
		var exceeded *domain.QuotaExceededError
		if errors.As(err, &exceeded) {
			logger.Warn("post-hoc quota refusal",
				slog.String("user_id", string(userID)),
				slog.Int64("requested", exceeded.Requested),
				slog.Int64("remaining", exceeded.Remaining),
			)
			return
		}
		logger.Error("record token usage", slog.String("user_id", string(userID)), slog.String("error", err.Error()))
	}
}
