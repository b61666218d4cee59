package domain

import (
	"strings"
	"time"
)

type Phase string

const (
	PhaseHearingLevel      Phase = "hearing_level"
	PhaseHearingGoal       Phase = "hearing_goal"
	PhaseGeneratingRoadmap Phase = "generating_roadmap"
	PhaseProposal          Phase = "proposal"
	PhaseLearning          Phase = "learning"
	PhaseCompleted         Phase = "completed"

	// PhaseHearing is an accepted alias of PhaseHearingLevel.
	PhaseHearing Phase = "hearing"
)

// Normalize maps aliases and unknown values onto the canonical phases.
func (p Phase) Normalize() Phase {
	trimmed := Phase(strings.TrimSpace(string(p)))
	switch trimmed {
	case PhaseHearing, "":
		return PhaseHearingLevel
	case PhaseHearingLevel, PhaseHearingGoal, PhaseGeneratingRoadmap, PhaseProposal, PhaseLearning, PhaseCompleted:
		return trimmed
	default:
		return PhaseHearingLevel
	}
}

func (p Phase) Terminal() bool {
	return p.Normalize() == PhaseCompleted
}

type HearingData struct {
	Level string `json:"level,omitempty"`
	Goal  string `json:"goal,omitempty"`
}

// ManagedSessionState is the guided-learning state of a room. When Roadmap is
// non-nil and Phase is learning, the indices address an existing section.
type ManagedSessionState struct {
	RoomID              RoomID      `json:"roomId"`
	Phase               Phase       `json:"phase"`
	Roadmap             *Roadmap    `json:"roadmap"`
	CurrentUnitIndex    int         `json:"currentUnitIndex"`
	CurrentSectionIndex int         `json:"currentSectionIndex"`
	HearingData         HearingData `json:"hearingData"`
	LastMessageID       MessageID   `json:"lastMessageId,omitempty"`
	LastReply           string      `json:"lastReply,omitempty"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

func NewManagedSessionState(roomID RoomID) ManagedSessionState {
	return ManagedSessionState{RoomID: roomID, Phase: PhaseHearingLevel}
}

func (s ManagedSessionState) Position() Position {
	return Position{Unit: s.CurrentUnitIndex, Section: s.CurrentSectionIndex}
}

func (s *ManagedSessionState) SetPosition(p Position) {
	s.CurrentUnitIndex = p.Unit
	s.CurrentSectionIndex = p.Section
}

// CurrentSection returns the section the learner is on, if any.
func (s ManagedSessionState) CurrentSection() (Section, bool) {
	if s.Roadmap == nil || !s.Roadmap.Contains(s.Position()) {
		return Section{}, false
	}
	return s.Roadmap.Units[s.CurrentUnitIndex].Sections[s.CurrentSectionIndex], true
}

func (s ManagedSessionState) Clone() ManagedSessionState {
	out := s
	if s.Roadmap != nil {
		roadmap := s.Roadmap.Clone()
		out.Roadmap = &roadmap
	}
	return out
}
