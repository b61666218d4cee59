package status

import (
	"errors"
	"io"

	"github.com/bnema/whiteboard-tutor/internal/application"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

type renderReadyMsg struct{}

// model renders once through a headless bubbletea program and quits.
type model struct {
	view   func(styles) string
	styles styles
	output string
}

func newModel(view func(styles) string) model {
	return model{view: view, styles: newStyles()}
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		return renderReadyMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case renderReadyMsg:
		m.output = m.view(m.styles)
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m model) View() string {
	return m.output
}

// RenderRoom draws a room's phase and roadmap progress.
func RenderRoom(status application.RoomStatus, opts RenderOptions) (string, error) {
	return run(func(s styles) string { return renderRoom(status, opts, s) })
}

// RenderQuota draws a user's plan and remaining monthly tokens.
func RenderQuota(status application.QuotaStatus, opts RenderOptions) (string, error) {
	return run(func(s styles) string { return renderQuota(status, opts, s) })
}

func run(view func(styles) string) (string, error) {
	p := tea.NewProgram(
		newModel(view),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	rendered, ok := finalModel.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}

	return rendered.View(), nil
}
