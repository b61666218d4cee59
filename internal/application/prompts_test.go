package application

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPrompts(t *testing.T) *Prompts {
	t.Helper()
	prompts, err := DefaultPrompts()
	require.NoError(t, err)
	return prompts
}

func TestPromptsIsAffirmative(t *testing.T) {
	t.Parallel()

	prompts := mustPrompts(t)

	tests := []struct {
		message string
		want    bool
	}{
		{message: "yes", want: true},
		{message: "OK!", want: true},
		{message: "Sounds good, let's do it", want: true},
		{message: "fine by me", want: true},
		{message: "はい、お願いします", want: true},
		{message: "no, add more on pointers", want: false},
		{message: "yesterday I read a book", want: false},
		{message: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, prompts.IsAffirmative(tt.message))
		})
	}
}

func TestPromptsRenderProposal(t *testing.T) {
	t.Parallel()

	prompts := mustPrompts(t)
	text, err := prompts.Reply("proposal", domain.FallbackRoadmap("Go", "beginner"))
	require.NoError(t, err)

	assert.Contains(t, text, `"Go"`)
	assert.Contains(t, text, "1. Foundations of Go")
	assert.Contains(t, text, "2. Applying Go")
	assert.Contains(t, text, "- Practice problems in Go")
}

func TestPromptsUnknownKey(t *testing.T) {
	t.Parallel()

	_, err := mustPrompts(t).Reply("nope", nil)
	require.Error(t, err)
}

func TestPromptsBoardToolIsJSON(t *testing.T) {
	t.Parallel()

	tool := mustPrompts(t).BoardTool()
	require.NotEmpty(t, tool)
	assert.Contains(t, string(tool), BoardToolName)
}

func TestLoadPromptsOverridesOnTopOfDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
affirmative_tokens: ["go ahead"]
replies:
  ask_goal: "What is the goal?"
`), 0o600))

	prompts, err := LoadPrompts(path)
	require.NoError(t, err)

	text, err := prompts.Reply("ask_goal", nil)
	require.NoError(t, err)
	assert.Equal(t, "What is the goal?", text)

	text, err = prompts.Reply("generating", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, text)

	assert.True(t, prompts.IsAffirmative("Go ahead."))
	assert.False(t, prompts.IsAffirmative("yes"))
}

func TestLoadPromptsRejectsBrokenTemplate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replies:\n  ask_goal: \"{{ .Broken \"\n"), 0o600))

	_, err := LoadPrompts(path)
	require.Error(t, err)
}
