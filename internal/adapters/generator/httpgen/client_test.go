package httpgen

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bnema/whiteboard-tutor/internal/adapters/secrets/file"
	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
	"github.com/bnema/whiteboard-tutor/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientStreamsRecords(t *testing.T) {
	t.Parallel()

	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer sk-config", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, "{\"type\":\"text\",\"content\":\"Hi\"}\n")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "{\"type\":\"tool_call\",\"toolName\":\"update_whiteboard\",\"args\":{\"comment\":\"x\"}}\n")
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{BaseURL: server.URL + "/v1/", Model: "tutor-1", APIKey: "sk-config"}, nil)
	body, err := client.Generate(context.Background(), ports.GenerateRequest{
		SystemInstruction: "be nice",
		History:           []domain.Message{domain.TextMessage("room-1", domain.RoleUser, "hello")},
		Tools:             json.RawMessage(`[{"name":"update_whiteboard"}]`),
		JSONOutput:        true,
	})
	require.NoError(t, err)
	defer body.Close()

	decoder := stream.NewDecoder(context.Background(), body)
	var events []stream.Event
	for decoder.Next() {
		events = append(events, decoder.Event())
	}
	require.NoError(t, decoder.Err())
	require.Len(t, events, 2)
	assert.Equal(t, "Hi", events[0].Content)
	assert.Equal(t, "update_whiteboard", events[1].ToolName)

	assert.Equal(t, "tutor-1", got.Model)
	assert.Equal(t, "be nice", got.SystemInstruction)
	assert.Equal(t, "application/json", got.ResponseMimeType)
	require.Len(t, got.Contents, 1)
	assert.Equal(t, domain.RoleUser, got.Contents[0].Role)
	assert.Equal(t, "hello", got.Contents[0].Parts[0].Text)
	assert.JSONEq(t, `[{"name":"update_whiteboard"}]`, string(got.Tools))
}

func TestClientNon2xxIsUpstreamFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{BaseURL: server.URL, APIKey: "sk"}, nil)
	_, err := client.Generate(context.Background(), ports.GenerateRequest{})
	require.ErrorIs(t, err, domain.ErrUpstreamGenerator)
	assert.ErrorContains(t, err, "status 503")
	assert.ErrorContains(t, err, "overloaded")
}

func TestClientUnreachableIsUpstreamFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(Config{BaseURL: url, APIKey: "sk"}, nil).Generate(context.Background(), ports.GenerateRequest{})
	require.ErrorIs(t, err, domain.ErrUpstreamGenerator)
}

func TestClientCredentialResolution(t *testing.T) {
	t.Parallel()

	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	t.Cleanup(server.Close)

	secrets := file.NewStore(t.TempDir())

	_, err := NewClient(Config{BaseURL: server.URL}, secrets).Generate(context.Background(), ports.GenerateRequest{})
	require.ErrorIs(t, err, domain.ErrMissingCredential)

	_, err = NewClient(Config{BaseURL: server.URL}, nil).Generate(context.Background(), ports.GenerateRequest{})
	require.ErrorIs(t, err, domain.ErrMissingCredential)

	require.NoError(t, secrets.Put(context.Background(), file.GeneratorAPIKey, "sk-file"))
	body, err := NewClient(Config{BaseURL: server.URL}, secrets).Generate(context.Background(), ports.GenerateRequest{})
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "Bearer sk-file", auth)
}
