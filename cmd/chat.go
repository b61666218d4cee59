package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bnema/whiteboard-tutor/internal/application"
	"github.com/bnema/whiteboard-tutor/internal/stream"
)

const maxErrorBody = 4 << 10

type chatOptions struct {
	server    string
	token     string
	roomID    string
	messageID string
	session   bool
}

func newChatCmd() *cobra.Command {
	opts := chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send a message to a running server and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, http.DefaultClient, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "Tutor server base URL")
	cmd.Flags().StringVar(&opts.token, "token", "", "Bearer token")
	cmd.Flags().StringVar(&opts.roomID, "room", "", "Room ID")
	cmd.Flags().StringVar(&opts.messageID, "message-id", "", "Message ID, reuse it to retry a message (default: random)")
	cmd.Flags().BoolVar(&opts.session, "session", false, "Send to the guided session instead of free chat")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("room")

	return cmd
}

func runChat(cmd *cobra.Command, client *http.Client, opts chatOptions, message string) error {
	ctx := cmd.Context()
	req, err := newChatRequest(ctx, opts, message)
	if err != nil {
		return err
	}

	reply, err := awaitReply(ctx, cmd.ErrOrStderr(), client, req)
	if err != nil {
		return err
	}
	defer reply.Close()

	out := cmd.OutOrStdout()
	if err := reply.events(func(ev stream.Event) error { return printEvent(out, ev) }); err != nil {
		return err
	}

	_, err = fmt.Fprintln(out)
	return err
}

func newChatRequest(ctx context.Context, opts chatOptions, message string) (*http.Request, error) {
	path := "/chat"
	if opts.session {
		path = "/session/messages"
	}
	endpoint := strings.TrimRight(opts.server, "/") + "/rooms/" + url.PathEscape(opts.roomID) + path

	messageID := opts.messageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	body, err := json.Marshal(map[string]string{"messageId": messageID, "text": message})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", stream.ContentType)
	req.Header.Set("Authorization", "Bearer "+opts.token)
	return req, nil
}

func serverError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, message)
}

func printEvent(out io.Writer, ev stream.Event) error {
	switch ev.Type {
	case stream.EventText:
		_, err := fmt.Fprint(out, ev.Content)
		return err
	case stream.EventToolCall:
		_, err := fmt.Fprintf(out, "\n[%s]\n", toolLabel(ev))
		return err
	default:
		return nil
	}
}

func toolLabel(ev stream.Event) string {
	switch ev.ToolName {
	case application.RoadmapToolName:
		return "roadmap proposed"
	case application.BoardToolName:
		var args struct {
			Operations []json.RawMessage `json:"operations"`
		}
		if json.Unmarshal(ev.Args, &args) == nil {
			return fmt.Sprintf("board: %d operations", len(args.Operations))
		}
		return "board updated"
	default:
		return ev.ToolName
	}
}
