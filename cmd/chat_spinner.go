package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/whiteboard-tutor/internal/stream"
)

// pendingReply is a streamed reply whose decoder may already sit on its
// first record.
type pendingReply struct {
	body    io.ReadCloser
	decoder *stream.Decoder
	ready   bool
}

func (r *pendingReply) Close() error {
	return r.body.Close()
}

// events yields the buffered first record, then the rest of the stream.
func (r *pendingReply) events(yield func(stream.Event) error) error {
	for ok := r.ready; ok; ok = r.decoder.Next() {
		if err := yield(r.decoder.Event()); err != nil {
			return err
		}
	}
	if err := r.decoder.Err(); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	return nil
}

type firstRecordMsg struct {
	reply *pendingReply
	err   error
}

// replyWaitModel spins from the request until the first reply record is
// decoded, so the spinner never interleaves with streamed text.
type replyWaitModel struct {
	spinner spinner.Model
	await   tea.Cmd
	started time.Time
	elapsed time.Duration
	reply   *pendingReply
	err     error
	done    bool
}

func newReplyWaitModel(await tea.Cmd, started time.Time) replyWaitModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return replyWaitModel{
		spinner: s,
		await:   await,
		started: started,
	}
}

func (m replyWaitModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.await)
}

func (m replyWaitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.elapsed = time.Since(m.started)
		return m, cmd
	case firstRecordMsg:
		m.done = true
		m.reply = msg.reply
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m replyWaitModel) View() string {
	if m.done {
		return ""
	}
	if m.elapsed < time.Second {
		return fmt.Sprintf("%s Waiting for the tutor...", m.spinner.View())
	}
	return fmt.Sprintf("%s Waiting for the tutor... %ds", m.spinner.View(), int(m.elapsed.Seconds()))
}

// awaitReply sends req and blocks behind a spinner until the first NDJSON
// record is decoded or the stream ends empty.
func awaitReply(ctx context.Context, output io.Writer, client *http.Client, req *http.Request) (*pendingReply, error) {
	await := func() tea.Msg {
		reply, err := openReply(ctx, client, req)
		return firstRecordMsg{reply: reply, err: err}
	}

	p := tea.NewProgram(
		newReplyWaitModel(await, time.Now()),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return nil, err
	}

	result, ok := finalModel.(replyWaitModel)
	if !ok {
		return nil, fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.reply, result.err
}

func openReply(ctx context.Context, client *http.Client, req *http.Request) (*pendingReply, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, serverError(resp)
	}

	decoder := stream.NewDecoder(ctx, resp.Body)
	ready := decoder.Next()
	if !ready && decoder.Err() != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("read reply: %w", decoder.Err())
	}
	return &pendingReply{body: resp.Body, decoder: decoder, ready: ready}, nil
}
