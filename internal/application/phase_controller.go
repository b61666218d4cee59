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
	"github.com/google/uuid"
)

// RoadmapToolName carries a freshly proposed roadmap to the client.
const RoadmapToolName = "propose_roadmap"

// PhaseController sequences a guided session: hearing, roadmap generation,
// proposal, per-section teaching and completion.
type PhaseController struct {
	rooms    ports.RoomStore
	sessions *SessionStore
	quota    *QuotaGate
	prompts  *Prompts
	runner   *turnRunner
	clock    ports.Clock
	logger   *slog.Logger
	newID    func() string
}

func NewPhaseController(rooms ports.RoomStore, sessions *SessionStore, quota *QuotaGate, generator ports.Generator, prompts *Prompts, clock ports.Clock, logger *slog.Logger) *PhaseController {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PhaseController{
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

// turn is the working set of one inbound request.
type turn struct {
	ctx    context.Context
	lease  *Lease
	userID domain.UserID
	state  domain.ManagedSessionState
	sink   stream.Sink
	id     string
	reply  strings.Builder
	logger *slog.Logger
}

func (t *turn) say(text string) error {
	if text == "" {
		return nil
	}
	t.reply.WriteString(text)
	if err := t.sink.Emit(stream.TextDelta(text)); err != nil {
		return fmt.Errorf("emit reply: %w", err)
	}
	return nil
}

// SessionView is a session state plus the question the tutor is waiting on
// during hearing.
type SessionView struct {
	domain.ManagedSessionState
	Prompt string `json:"prompt,omitempty"`
}

// State returns the room's current session state. A room still in hearing
// carries the pending hearing question, so a fresh room opens with a greeting.
func (c *PhaseController) State(ctx context.Context, userID domain.UserID, roomID domain.RoomID) (SessionView, error) {
	if _, err := ensureRoom(ctx, c.rooms, c.clock, userID, roomID); err != nil {
		return SessionView{}, err
	}
	state, err := c.sessions.Load(ctx, roomID)
	if err != nil {
		return SessionView{}, err
	}

	view := SessionView{ManagedSessionState: state}
	var key string
	switch state.Phase {
	case domain.PhaseHearingLevel:
		key = "ask_level"
	case domain.PhaseHearingGoal:
		key = "ask_goal"
	}
	if key != "" {
		if view.Prompt, err = c.prompts.Reply(key, nil); err != nil {
			return SessionView{}, err
		}
	}
	return view, nil
}

// HandleMessage routes one user message through the phase machine. A message
// whose id matches the last handled one replays the stored reply and changes
// nothing.
func (c *PhaseController) HandleMessage(ctx context.Context, cmd InboundMessageCommand, sink stream.Sink) (domain.ManagedSessionState, error) {
	t, lease, err := c.begin(ctx, cmd.UserID, cmd.RoomID, sink, true)
	if err != nil {
		return domain.ManagedSessionState{}, err
	}
	defer lease.Release()

	if cmd.MessageID != "" && cmd.MessageID == t.state.LastMessageID {
		t.logger.Debug("replaying reply for retried message", slog.String("message_id", string(cmd.MessageID)))
		if err := t.say(t.state.LastReply); err != nil {
			return t.state, err
		}
		return t.state, nil
	}

	text := strings.TrimSpace(cmd.Text)
	user := domain.TextMessage(cmd.RoomID, domain.RoleUser, cmd.Text)
	user.ID = cmd.MessageID

	var handleErr error
	switch phase := t.state.Phase; {
	case phase.Terminal():
		handleErr = c.sayReply(t, "completed", c.roadmapData(t.state))
	case phase == domain.PhaseHearingLevel:
		t.state.HearingData.Level = text
		t.state.Phase = domain.PhaseHearingGoal
		handleErr = c.sayReply(t, "ask_goal", nil)
	case phase == domain.PhaseHearingGoal, phase == domain.PhaseGeneratingRoadmap:
		// A stored generating_roadmap means an earlier attempt died midway.
		t.state.HearingData.Goal = text
		handleErr = c.generateRoadmap(t, user)
	case phase == domain.PhaseProposal:
		if c.prompts.IsAffirmative(text) {
			handleErr = c.startLearning(t)
		} else {
			handleErr = c.sayReply(t, "modify_hint", nil)
		}
	case phase == domain.PhaseLearning:
		handleErr = c.answerQuestion(t, user)
	}

	if handleErr != nil {
		return c.abort(t, handleErr)
	}

	t.state.LastMessageID = cmd.MessageID
	return c.finish(t, &user)
}

// Advance records a quiz outcome: the current section completes and teaching
// moves on, or the session completes after the last section. Sections marked
// skip are passed over and recorded as skipped.
func (c *PhaseController) Advance(ctx context.Context, cmd AdvanceCommand, sink stream.Sink) (domain.ManagedSessionState, error) {
	t, lease, err := c.begin(ctx, cmd.UserID, cmd.RoomID, sink, true)
	if err != nil {
		return domain.ManagedSessionState{}, err
	}
	defer lease.Release()

	if err := requireLearning(t.state); err != nil {
		return t.state, err
	}

	roadmap := t.state.Roadmap
	pos := t.state.Position()
	current, err := roadmap.Section(pos)
	if err != nil {
		return t.state, err
	}
	current.Status = domain.SectionCompleted

	next, ok := roadmap.Advance(pos)
	next, ok, err = c.passSkipped(t, next, ok)
	if err != nil {
		return c.abort(t, err)
	}

	if !ok {
		t.state.Phase = domain.PhaseCompleted
		if err := c.sayReply(t, "completed", c.roadmapData(t.state)); err != nil {
			return c.abort(t, err)
		}
		return c.finish(t, nil)
	}

	t.state.SetPosition(next)
	section, _ := roadmap.Section(next)
	if section.Status != domain.SectionCompleted {
		section.Status = domain.SectionInProgress
	}

	if err := c.teach(t, !cmd.IsCorrect); err != nil {
		return c.abort(t, err)
	}
	return c.finish(t, nil)
}

// Rewind moves back one section. Completed sections keep their status.
func (c *PhaseController) Rewind(ctx context.Context, userID domain.UserID, roomID domain.RoomID) (domain.ManagedSessionState, error) {
	t, lease, err := c.begin(ctx, userID, roomID, stream.Discard, false)
	if err != nil {
		return domain.ManagedSessionState{}, err
	}
	defer lease.Release()

	if err := requireLearning(t.state); err != nil {
		return t.state, err
	}

	roadmap := t.state.Roadmap
	pos := t.state.Position()
	prev := roadmap.Rewind(pos)
	if prev == pos {
		return t.state, nil
	}

	if current, err := roadmap.Section(pos); err == nil && current.Status != domain.SectionCompleted {
		current.Status = domain.SectionPending
	}
	target, err := roadmap.Section(prev)
	if err != nil {
		return t.state, err
	}
	if target.Status != domain.SectionCompleted {
		target.Status = domain.SectionInProgress
	}
	t.state.SetPosition(prev)

	return c.save(t)
}

// ToggleImportance cycles one section's importance. Status is not touched.
func (c *PhaseController) ToggleImportance(ctx context.Context, cmd ToggleImportanceCommand) (domain.ManagedSessionState, error) {
	t, lease, err := c.begin(ctx, cmd.UserID, cmd.RoomID, stream.Discard, false)
	if err != nil {
		return domain.ManagedSessionState{}, err
	}
	defer lease.Release()

	if t.state.Roadmap == nil {
		return t.state, fmt.Errorf("toggle importance: %w", domain.ErrNoRoadmap)
	}

	toggled, err := t.state.Roadmap.ToggleImportance(cmd.Position)
	if err != nil {
		return t.state, err
	}
	t.state.Roadmap = &toggled

	return c.save(t)
}

// ReplaceRoadmap is the external modify path, open only during the proposal.
func (c *PhaseController) ReplaceRoadmap(ctx context.Context, cmd ReplaceRoadmapCommand) (domain.ManagedSessionState, error) {
	t, lease, err := c.begin(ctx, cmd.UserID, cmd.RoomID, stream.Discard, false)
	if err != nil {
		return domain.ManagedSessionState{}, err
	}
	defer lease.Release()

	if t.state.Phase != domain.PhaseProposal {
		return t.state, fmt.Errorf("replace roadmap in %s: %w", t.state.Phase, domain.ErrInvalidPhase)
	}

	roadmap := cmd.Roadmap.Clone()
	if roadmap.SectionCount() == 0 {
		return t.state, fmt.Errorf("replace roadmap: %w", domain.ErrNoRoadmap)
	}
	if strings.TrimSpace(roadmap.Goal) == "" {
		roadmap.Goal = t.state.HearingData.Goal
	}
	if strings.TrimSpace(roadmap.CurrentLevel) == "" {
		roadmap.CurrentLevel = t.state.HearingData.Level
	}
	roadmap.Normalize()
	// Progress starts with the first teaching turn, never from the client.
	roadmap.ResetProgress()
	t.state.Roadmap = &roadmap

	return c.save(t)
}

// Evaluate grades an answer to the current section's quiz. Unparsable grading
// output is treated as correct.
func (c *PhaseController) Evaluate(ctx context.Context, cmd EvaluateCommand) (Evaluation, error) {
	t, lease, err := c.begin(ctx, cmd.UserID, cmd.RoomID, stream.Discard, false)
	if err != nil {
		return Evaluation{}, err
	}
	defer lease.Release()

	if err := requireLearning(t.state); err != nil {
		return Evaluation{}, err
	}

	section, _ := t.state.CurrentSection()
	instruction, err := c.prompts.Instruction("evaluate", map[string]any{"Section": section.Title})
	if err != nil {
		return Evaluation{}, err
	}

	prompt := fmt.Sprintf("Question:\n%s\n\nAnswer:\n%s", cmd.Question, cmd.Answer)
	req := ports.GenerateRequest{
		SystemInstruction: instruction,
		History:           []domain.Message{domain.TextMessage(cmd.RoomID, domain.RoleUser, prompt)},
		JSONOutput:        true,
	}

	outcome, err := c.runner.collect(t.ctx, req)
	if err != nil {
		return Evaluation{}, err
	}
	recordUsage(t.ctx, c.quota, c.logger, cmd.UserID, domain.CharCount(instruction)+domain.CharCount(prompt), outcome.CompletionChars)

	evaluation, err := ParseEvaluation(outcome.Text)
	if err != nil {
		t.logger.Warn("lenient grading", slog.String("error", err.Error()))
	}
	return evaluation, nil
}

func (c *PhaseController) begin(ctx context.Context, userID domain.UserID, roomID domain.RoomID, sink stream.Sink, supersede bool) (*turn, *Lease, error) {
	var (
		lease *Lease
		err   error
	)
	if supersede {
		lease, err = c.sessions.Supersede(ctx, roomID)
	} else {
		lease, err = c.sessions.Acquire(ctx, roomID)
	}
	if err != nil {
		return nil, nil, err
	}

	if _, err := ensureRoom(lease.Ctx, c.rooms, c.clock, userID, roomID); err != nil {
		lease.Release()
		return nil, nil, err
	}

	state, err := c.sessions.Load(lease.Ctx, roomID)
	if err != nil {
		lease.Release()
		return nil, nil, err
	}

	if sink == nil {
		sink = stream.Discard
	}
	turnID := c.newID()
	return &turn{
		ctx:    lease.Ctx,
		lease:  lease,
		userID: userID,
		state:  state,
		sink:   sink,
		id:     turnID,
		logger: c.logger.With(slog.String("room_id", string(roomID)), slog.String("turn_id", turnID)),
	}, lease, nil
}

func (c *PhaseController) generateRoadmap(t *turn, user domain.Message) error {
	t.state.Phase = domain.PhaseGeneratingRoadmap
	if err := c.sayReply(t, "generating", nil); err != nil {
		return err
	}
	if err := c.sessions.Save(t.ctx, t.state); err != nil {
		return err
	}

	instruction, err := c.prompts.Instruction("roadmap", map[string]any{
		"Level":       t.state.HearingData.Level,
		"Goal":        t.state.HearingData.Goal,
		"MinUnits":    domain.MinUnits,
		"MaxUnits":    domain.MaxUnits,
		"MinSections": domain.MinSectionsPerUnit,
		"MaxSections": domain.MaxSectionsPerUnit,
	})
	if err != nil {
		return err
	}

	req := ports.GenerateRequest{
		SystemInstruction: instruction,
		History:           []domain.Message{user},
		JSONOutput:        true,
	}
	outcome, err := c.runner.collect(t.ctx, req)
	if err != nil {
		t.state.Phase = domain.PhaseHearingGoal
		return err
	}
	recordUsage(t.ctx, c.quota, c.logger, t.userID, domain.CharCount(instruction)+domain.CharCount(user.Text()), outcome.CompletionChars)

	roadmap, err := ParseRoadmap(outcome.Text, t.state.HearingData)
	if err != nil {
		t.logger.Warn("roadmap fallback", slog.String("error", err.Error()))
		roadmap = domain.FallbackRoadmap(t.state.HearingData.Goal, t.state.HearingData.Level)
	}

	t.state.Roadmap = &roadmap
	t.state.SetPosition(domain.Position{})
	t.state.Phase = domain.PhaseProposal

	proposal, err := stream.ToolCall(RoadmapToolName, roadmap)
	if err != nil {
		return fmt.Errorf("encode roadmap: %w", err)
	}
	if err := t.sink.Emit(proposal); err != nil {
		return fmt.Errorf("emit roadmap: %w", err)
	}
	return c.sayReply(t, "proposal", roadmap)
}

func (c *PhaseController) startLearning(t *turn) error {
	if t.state.Roadmap == nil {
		return fmt.Errorf("start learning: %w", domain.ErrNoRoadmap)
	}

	roadmap := t.state.Roadmap
	first, ok := roadmap.FirstPosition()
	if !ok {
		return fmt.Errorf("start learning: %w", domain.ErrNoRoadmap)
	}
	first, ok, err := c.passSkipped(t, first, true)
	if err != nil {
		return err
	}
	if !ok {
		t.state.Phase = domain.PhaseCompleted
		return c.sayReply(t, "completed", c.roadmapData(t.state))
	}

	section, _ := roadmap.Section(first)
	section.Status = domain.SectionInProgress
	t.state.SetPosition(first)
	t.state.Phase = domain.PhaseLearning

	return c.teach(t, false)
}

// passSkipped moves from pos past every section marked skip, recording them
// as skipped. ok is false when no section is left to teach.
func (c *PhaseController) passSkipped(t *turn, pos domain.Position, ok bool) (domain.Position, bool, error) {
	roadmap := t.state.Roadmap
	for ok {
		section, err := roadmap.Section(pos)
		if err != nil {
			return pos, false, err
		}
		if section.Importance != domain.ImportanceSkip {
			return pos, true, nil
		}
		if section.Status != domain.SectionCompleted {
			section.Status = domain.SectionSkipped
		}
		t.logger.Info("section skipped", slog.String("section_id", section.ID))
		if err := c.sayReply(t, "section_skipped", section); err != nil {
			return pos, false, err
		}
		pos, ok = roadmap.Advance(pos)
	}
	return pos, false, nil
}

// teach generates the lesson for the current section, with board operations.
func (c *PhaseController) teach(t *turn, reviewPrevious bool) error {
	data := c.sectionData(t.state)
	data["ReviewPrevious"] = reviewPrevious

	instruction, err := c.prompts.Instruction("teach", data)
	if err != nil {
		return err
	}

	history, err := c.rooms.ListMessages(t.ctx, t.state.RoomID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if len(history) == 0 {
		// Generators reject an empty conversation.
		history = []domain.Message{domain.TextMessage(t.state.RoomID, domain.RoleUser, fmt.Sprintf("Teach me %q.", data["Section"]))}
	}

	return c.generateOnBoard(t, ports.GenerateRequest{
		SystemInstruction: instruction,
		History:           history,
		Tools:             c.prompts.BoardTool(),
	})
}

// answerQuestion treats a learning-phase message as a question about the
// current section. Unlike teaching it is gated by the quota up front.
func (c *PhaseController) answerQuestion(t *turn, user domain.Message) error {
	instruction, err := c.prompts.Instruction("question", c.sectionData(t.state))
	if err != nil {
		return err
	}

	history, err := c.rooms.ListMessages(t.ctx, t.state.RoomID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	req := ports.GenerateRequest{
		SystemInstruction: instruction,
		History:           append(history, user),
		Tools:             c.prompts.BoardTool(),
	}

	estimate := domain.EstimateTokens(domain.CharCount(instruction)+historyChars(req.History), 0)
	decision, err := c.quota.CanConsume(t.ctx, t.userID, estimate)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	if !decision.Allowed {
		if err := c.sayReply(t, "quota_exceeded", map[string]any{"Remaining": decision.Remaining}); err != nil {
			t.logger.Debug("emit quota reply", slog.String("error", err.Error()))
		}
		return &domain.QuotaExceededError{Requested: estimate, Remaining: decision.Remaining}
	}

	return c.generateOnBoard(t, req)
}

func (c *PhaseController) generateOnBoard(t *turn, req ports.GenerateRequest) error {
	board, err := loadBoard(t.ctx, c.rooms, t.state.RoomID)
	if err != nil {
		return err
	}

	outcome, err := c.runner.run(t.ctx, req, &board, t.id, t.sink)
	if err != nil {
		return err
	}
	t.reply.WriteString(outcome.Reply())

	recordUsage(t.ctx, c.quota, c.logger, t.userID, domain.CharCount(req.SystemInstruction)+historyChars(req.History), outcome.CompletionChars)
	return nil
}

// abort handles a failed transition. Upstream failures are reported in chat
// and the session is put back to where the user can retry; nothing is
// committed for cancelled or superseded requests.
func (c *PhaseController) abort(t *turn, cause error) (domain.ManagedSessionState, error) {
	started := t.reply.Len() > 0
	if errors.Is(cause, domain.ErrUpstreamGenerator) || (started && errors.Is(cause, domain.ErrMissingCredential)) {
		key := "upstream_failure"
		if t.state.Phase == domain.PhaseHearingGoal {
			key = "roadmap_failure"
		}
		if err := c.sayReply(t, key, nil); err != nil {
			t.logger.Debug("emit failure reply", slog.String("error", err.Error()))
		}
	}

	// Only the roadmap step persists an intermediate phase; undo it.
	stored, err := c.sessions.Load(context.WithoutCancel(t.ctx), t.state.RoomID)
	if err == nil && stored.Phase == domain.PhaseGeneratingRoadmap {
		stored.Phase = domain.PhaseHearingGoal
		stored.UpdatedAt = c.clock.Now()
		if saveErr := c.sessions.Save(context.WithoutCancel(t.ctx), stored); saveErr != nil {
			return stored, errors.Join(cause, saveErr)
		}
		return stored, cause
	}
	if err != nil {
		return t.state, errors.Join(cause, err)
	}
	return stored, cause
}

func (c *PhaseController) finish(t *turn, user *domain.Message) (domain.ManagedSessionState, error) {
	reply := t.reply.String()
	if user != nil {
		t.state.LastReply = reply
	}
	if err := t.lease.Err(); err != nil {
		return t.state, fmt.Errorf("commit turn: %w", err)
	}

	if err := commitTurn(t.ctx, c.rooms, c.clock, c.newID, t.state.RoomID, t.id, user, reply); err != nil {
		return t.state, err
	}
	return c.save(t)
}

func (c *PhaseController) save(t *turn) (domain.ManagedSessionState, error) {
	t.state.UpdatedAt = c.clock.Now()
	if err := c.sessions.Save(t.ctx, t.state); err != nil {
		return t.state, err
	}
	return t.state, nil
}

func (c *PhaseController) sayReply(t *turn, key string, data any) error {
	text, err := c.prompts.Reply(key, data)
	if err != nil {
		return err
	}
	return t.say(text)
}

func (c *PhaseController) roadmapData(state domain.ManagedSessionState) domain.Roadmap {
	if state.Roadmap == nil {
		return domain.Roadmap{Goal: state.HearingData.Goal}
	}
	return *state.Roadmap
}

func (c *PhaseController) sectionData(state domain.ManagedSessionState) map[string]any {
	data := map[string]any{
		"Goal":       state.HearingData.Goal,
		"Level":      state.HearingData.Level,
		"Unit":       "",
		"Section":    "",
		"Importance": string(domain.ImportanceNormal),
	}
	if state.Roadmap == nil {
		return data
	}

	pos := state.Position()
	if state.Roadmap.Contains(pos) {
		section := state.Roadmap.Units[pos.Unit].Sections[pos.Section]
		data["Unit"] = state.Roadmap.Units[pos.Unit].Title
		data["Section"] = section.Title
		data["Importance"] = string(section.Importance)
	}
	if goal := strings.TrimSpace(state.Roadmap.Goal); goal != "" {
		data["Goal"] = goal
	}
	return data
}

func requireLearning(state domain.ManagedSessionState) error {
	if state.Roadmap == nil {
		return fmt.Errorf("session in %s: %w", state.Phase, domain.ErrNoRoadmap)
	}
	if state.Phase != domain.PhaseLearning {
		return fmt.Errorf("session in %s: %w", state.Phase, domain.ErrInvalidPhase)
	}
	if !state.Roadmap.Contains(state.Position()) {
		return fmt.Errorf("session position: %w", domain.ErrIndexOutOfRange)
	}
	return nil
}
