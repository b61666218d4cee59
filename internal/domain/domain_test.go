package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokensRoundsUp(t *testing.T) {
	tests := []struct {
		name       string
		prompt     int
		completion int
		want       int64
	}{
		{name: "empty", prompt: 0, completion: 0, want: 0},
		{name: "one char", prompt: 1, completion: 0, want: 1},
		{name: "exact multiple", prompt: 4, completion: 4, want: 2},
		{name: "partial token", prompt: 5, completion: 4, want: 3},
		{name: "completion only", prompt: 0, completion: 7, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.prompt, tt.completion))
		})
	}
}

func TestCharCountCountsRunes(t *testing.T) {
	// 4 runes, 12 bytes
	assert.Equal(t, int64(1), EstimateTokens(CharCount("数学の"), CharCount("本")))
}

func TestCompactNumberBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		value int64
		want  string
	}{
		{name: "below thousand", value: 999, want: "999"},
		{name: "thousand", value: 1_000, want: "1.0k"},
		{name: "below million", value: 999_999, want: "1000.0k"},
		{name: "million", value: 1_000_000, want: "1.0M"},
		{name: "negative small", value: -1, want: "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compactNumber(tt.value))
		})
	}
}

func TestLedgerNeedsResetAcrossMonths(t *testing.T) {
	last := time.Date(2026, 9, 30, 23, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "same month", now: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), want: false},
		{name: "next month", now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), want: true},
		{name: "same month next year", now: time.Date(2027, 9, 15, 0, 0, 0, 0, time.UTC), want: true},
		{name: "epoch ledger", now: time.Unix(0, 0).UTC(), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := TokenLedger{LastResetDate: last}
			assert.Equal(t, tt.want, ledger.NeedsReset(tt.now))
		})
	}
}

func TestLedgerRemainingNeverNegative(t *testing.T) {
	ledger := TokenLedger{TokenUsage: 99_950}
	assert.Equal(t, int64(50), ledger.Remaining(100_000))

	ledger.TokenUsage = 120_000
	assert.Equal(t, int64(0), ledger.Remaining(100_000))
}

func TestPhaseNormalizeAcceptsHearingAlias(t *testing.T) {
	assert.Equal(t, PhaseHearingLevel, PhaseHearing.Normalize())
	assert.Equal(t, PhaseHearingLevel, Phase("").Normalize())
	assert.Equal(t, PhaseLearning, Phase(" learning ").Normalize())
	assert.Equal(t, PhaseHearingLevel, Phase("bogus").Normalize())
	assert.True(t, PhaseCompleted.Terminal())
}

func TestManagedSessionStateCloneDetachesRoadmap(t *testing.T) {
	roadmap := FallbackRoadmap("calculus", "beginner")
	state := ManagedSessionState{Roadmap: &roadmap}

	clone := state.Clone()
	clone.Roadmap.Units[0].Sections[0].Status = SectionCompleted

	assert.Equal(t, SectionPending, state.Roadmap.Units[0].Sections[0].Status)
}

func TestMessageTextJoinsParts(t *testing.T) {
	msg := Message{Parts: []Part{{Text: "a"}, {FileURI: "gs://x"}, {Text: "b"}}}
	assert.Equal(t, "ab", msg.Text())

	single := TextMessage("room-1", RoleUser, "hello")
	require.Len(t, single.Parts, 1)
	assert.Equal(t, "hello", single.Text())
}

func TestBoardCloneIsDeep(t *testing.T) {
	board := Board{
		Nodes:       []BoardNode{{ID: "n1", Content: "x", Style: []byte(`{"color":"red"}`)}},
		Suggestions: []string{"a"},
	}

	clone := board.Clone()
	clone.Nodes[0].Content = "y"
	clone.Nodes[0].Style[2] = 'C'
	clone.Suggestions[0] = "b"

	assert.Equal(t, "x", board.Nodes[0].Content)
	assert.Equal(t, `{"color":"red"}`, string(board.Nodes[0].Style))
	assert.Equal(t, []string{"a"}, board.Suggestions)
}
