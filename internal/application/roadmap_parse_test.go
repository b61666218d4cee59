package application

import (
	"testing"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoadmap(t *testing.T) {
	t.Parallel()

	hearing := domain.HearingData{Level: "beginner", Goal: "learn Go"}

	t.Run("fenced json", func(t *testing.T) {
		t.Parallel()

		text := "```json\n" + `{"units":[
			{"title":"Basics","sections":[{"title":"Syntax"},{"title":"Types","status":"completed"}]},
			{"title":"Empty","sections":[{"title":"  "}]},
			{"title":"Concurrency","sections":[{"title":"Goroutines","importance":"focus"}]}
		]}` + "\n```"

		roadmap, err := ParseRoadmap(text, hearing)
		require.NoError(t, err)

		assert.Equal(t, "learn Go", roadmap.Goal)
		assert.Equal(t, "beginner", roadmap.CurrentLevel)
		require.Len(t, roadmap.Units, 2)
		assert.Equal(t, "unit-1", roadmap.Units[0].ID)
		assert.Equal(t, "unit-2-section-1", roadmap.Units[1].Sections[0].ID)
		assert.Equal(t, domain.SectionPending, roadmap.Units[0].Sections[1].Status)
		assert.Equal(t, domain.ImportanceNormal, roadmap.Units[0].Sections[0].Importance)
		assert.Equal(t, domain.ImportanceFocus, roadmap.Units[1].Sections[0].Importance)
	})

	failures := map[string]string{
		"json string":    `"not json"`,
		"prose":          "Sure! Here is your roadmap.",
		"no units":       `{"goal":"x","units":[]}`,
		"empty sections": `{"units":[{"title":"A","sections":[]}]}`,
	}
	for name, text := range failures {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseRoadmap(text, hearing)
			require.ErrorIs(t, err, domain.ErrRoadmapParse)
		})
	}
}

func TestParseEvaluation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		want     Evaluation
		parseErr bool
	}{
		{name: "incorrect", text: `{"isCorrect":false,"feedback":" Check the sign. "}`, want: Evaluation{IsCorrect: false, Feedback: "Check the sign."}},
		{name: "fenced correct", text: "```\n{\"isCorrect\":true}\n```", want: Evaluation{IsCorrect: true}},
		{name: "garbage is lenient", text: "looks right to me", want: Evaluation{IsCorrect: true}, parseErr: true},
		{name: "missing verdict is lenient", text: `{"feedback":"hmm"}`, want: Evaluation{IsCorrect: true, Feedback: "hmm"}, parseErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseEvaluation(tt.text)
			if tt.parseErr {
				require.ErrorIs(t, err, domain.ErrEvaluationParse)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
